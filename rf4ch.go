// Package rf4ch drives four channel RF relay switchers: each configured
// switcher becomes a Device whose codes are queued to an RF transmission
// service, exposed over HomeKit, MQTT and HTTP, and triggered from physical
// inputs.
package rf4ch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"time"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/rf4ch/availability"
	"github.com/hubertat/rf4ch/history"
	"github.com/hubertat/rf4ch/inputs"
	"github.com/hubertat/rf4ch/metrics"
	"github.com/hubertat/rf4ch/mqtt"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "rf4ch"
const homeKitBridgeAuthor = "github.com/hubertat"
const mqttDisconnectTimeout = 3 * time.Second

type RfKit struct {
	Name string `json:"name" yaml:"name"`

	Switchers []SwitcherConfig `json:"switchers" yaml:"switchers"`
	Triggers  []*Trigger       `json:"triggers" yaml:"triggers"`

	HkPin       string `json:"hk_pin" yaml:"hk_pin"`
	HkDirectory string `json:"hk_directory" yaml:"hk_directory"`
	HkAddress   string `json:"hk_address" yaml:"hk_address"`
	HkDebug     bool   `json:"hk_debug" yaml:"hk_debug"`

	MqttBroker    string      `json:"mqtt_broker" yaml:"mqtt_broker"`
	MqttBaseTopic string      `json:"mqtt_base_topic" yaml:"mqtt_base_topic"`
	Facts         []FactTopic `json:"facts" yaml:"facts"`

	HttpAddress   string `json:"http_address" yaml:"http_address"`
	HttpJwtSecret string `json:"http_jwt_secret" yaml:"http_jwt_secret"`

	Influx *history.Influx `json:"influx" yaml:"influx"`

	Mcp23017   *inputs.McpIO      `json:"mcp23017" yaml:"mcp23017"`
	Gpio       *inputs.GpIO       `json:"gpio" yaml:"gpio"`
	FakeDriver *inputs.MockDriver `json:"fake_driver" yaml:"fake_driver"`

	drivers    map[string]inputs.Driver
	edges      *inputs.EdgeDetector
	facts      *availability.Facts
	metrics    *metrics.Metrics
	registry   *Registry
	mqttClient *mqtt.Client
	homekit    map[string]*hkSwitcher
	observers  []Observer
	logger     *log.Logger
}

func (k *RfKit) baseTopic() string {
	if len(k.MqttBaseTopic) > 0 {
		return strings.TrimSuffix(k.MqttBaseTopic, "/")
	}
	return defaultBaseTopic
}

func (k *RfKit) name() string {
	if len(k.Name) > 0 {
		return k.Name
	}
	return homeKitBridgeName
}

// prepare builds the shared collaborators once. It must run after InitHistory
// so a reachable store gets wired into the devices.
func (k *RfKit) prepare(ctx context.Context) (err error) {
	if k.registry != nil {
		return nil
	}

	k.logger = log.Default().WithPrefix("RfKit")
	k.facts = availability.NewFacts()
	k.metrics = metrics.New()
	k.homekit = make(map[string]*hkSwitcher)

	env := Env{
		Facts:   k.facts,
		Metrics: k.metrics,
		Logger:  k.logger,
	}

	if len(k.MqttBroker) > 0 {
		k.mqttClient, err = mqtt.NewClient(k.MqttBroker, k.name())
		if err != nil {
			return errors.Wrap(err, "failed to create mqtt client")
		}
		env.Publisher = k.mqttClient
	}

	if k.Influx != nil && k.Influx.IsReady() {
		env.History = k.Influx
	}

	k.registry = NewRegistry(ctx, env)
	k.registry.OnAdd = k.attach
	return nil
}

func (k *RfKit) attach(d *Device) {
	env := k.registry.Env()
	if env.Publisher != nil {
		d.AddObserver(&statePublisher{base: k.baseTopic(), publisher: env.Publisher})
	}
	if env.History != nil {
		d.AddObserver(newStateRecorder(env.History))
	}
	if hs, found := k.homekit[d.Id()]; found {
		d.AddObserver(hs)
	}
	for _, o := range k.observers {
		d.AddObserver(o)
	}
}

// Observe attaches o to every current device and to devices added later.
func (k *RfKit) Observe(o Observer) {
	k.observers = append(k.observers, o)
	if k.registry == nil {
		return
	}
	for _, d := range k.registry.List() {
		d.AddObserver(o)
	}
}

func (k *RfKit) Registry() *Registry {
	return k.registry
}

func (k *RfKit) FactStore() *availability.Facts {
	return k.facts
}

func (k *RfKit) Metrics() *metrics.Metrics {
	return k.metrics
}

// InitHistory connects to InfluxDB when configured. A failure is returned but
// the kit can run without history.
func (k *RfKit) InitHistory(ctx context.Context) error {
	if k.Influx == nil {
		return nil
	}
	return k.Influx.Setup(ctx)
}

func (k *RfKit) InitMqtt(ctx context.Context) (err error) {
	err = k.prepare(ctx)
	if err != nil {
		return
	}

	if k.mqttClient == nil {
		return errors.New("mqtt broker not set")
	}

	handlers := []mqtt.Handler{
		&commandHandler{base: k.baseTopic(), registry: k.registry, logger: k.logger},
	}
	for _, ft := range k.Facts {
		if len(ft.Name) == 0 || len(ft.Topic) == 0 {
			return errors.Errorf("fact topic needs name and topic (got %+v)", ft)
		}
		handlers = append(handlers, &factFeeder{FactTopic: ft, facts: k.facts, logger: k.logger})
	}

	err = k.mqttClient.Connect(ctx, handlers)
	return errors.Wrap(err, "failed to connect to mqtt broker")
}

// InitSwitchers creates a device per configured switcher and restores channel
// states from history when available.
func (k *RfKit) InitSwitchers(ctx context.Context) error {
	err := k.prepare(ctx)
	if err != nil {
		return err
	}

	err = k.registry.Apply(k.Switchers)
	if err != nil {
		return err
	}

	store := k.registry.Env().History
	if store == nil {
		return nil
	}
	for _, d := range k.registry.List() {
		if d.Options().Stateless {
			continue
		}
		err = RestoreFromStore(ctx, d, store)
		if err != nil {
			k.logger.Warn("state restore failed", "err", err)
		}
	}
	return nil
}

// Reload applies a new switcher list without restarting.
func (k *RfKit) Reload(configs []SwitcherConfig) error {
	if k.registry == nil {
		return errors.New("switchers not initialized")
	}
	err := k.registry.Apply(configs)
	if err != nil {
		return err
	}
	k.Switchers = configs
	return nil
}

func (k *RfKit) getInPins(driverName string) (pins []uint16) {
	for _, tr := range k.Triggers {
		if strings.EqualFold(tr.DriverName, driverName) {
			pins = append(pins, tr.InPin)
		}
	}
	return
}

func (k *RfKit) InitInputs(ctx context.Context) error {
	if k.registry == nil {
		return errors.New("switchers not initialized")
	}

	k.drivers = make(map[string]inputs.Driver)
	k.edges = inputs.NewEdgeDetector()

	if k.Gpio != nil {
		k.drivers[k.Gpio.String()] = k.Gpio
	}
	if k.Mcp23017 != nil {
		k.drivers[k.Mcp23017.String()] = k.Mcp23017
	}
	if k.FakeDriver != nil {
		k.drivers[k.FakeDriver.String()] = k.FakeDriver
	}

	for _, driver := range k.drivers {
		err := driver.Setup(ctx, k.getInPins(driver.String()))
		if err != nil {
			return errors.Wrapf(err, "failed to setup %s driver", driver)
		}
	}

	for _, tr := range k.Triggers {
		driver, found := k.drivers[tr.GetDriverName()]
		if !found {
			return errors.Errorf("driver %s not set up", tr.GetDriverName())
		}
		err := tr.Init(driver, k.registry)
		if err != nil {
			return err
		}
	}

	return nil
}

// StartTicker polls the trigger inputs every interval until ctx is done.
func (k *RfKit) StartTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, tr := range k.Triggers {
				err := tr.Sync(k.edges)
				if err != nil {
					k.logger.Error("trigger sync failed", "trigger", tr.Name, "err", err)
				}
			}
		}
	}
}

func (k *RfKit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, d := range k.registry.List() {
		if d.Config().DisableHomekit {
			continue
		}
		hs, found := k.homekit[d.Id()]
		if !found {
			hs = newHkSwitcher(d, k.registry, k.logger)
			k.homekit[d.Id()] = hs
			d.AddObserver(hs)
		}
		if hs.hk.Info != nil && hs.hk.Info.FirmwareRevision != nil {
			hs.hk.Info.FirmwareRevision.SetValue(firmwareVersion)
		}
		acc = append(acc, hs.GetHk())
	}

	return
}

// StartHomeKit serves the bridge until ctx is done. Switchers added later are
// not published until restart.
func (k *RfKit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	if k.registry == nil {
		return errors.New("switchers not initialized")
	}

	bridge := accessory.NewBridge(accessory.Info{
		Name:         k.name(),
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	var store hap.Store
	if len(k.HkDirectory) > 1 {
		store = hap.NewFsStore(k.HkDirectory)
	} else {
		store = hap.NewFsStore(defaultHomeKitDirectory)
	}
	hkServer, err := hap.NewServer(store, bridge.A, k.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return errors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = k.HkPin
	if len(k.HkAddress) > 0 {
		hkServer.Addr = k.HkAddress
	}

	if k.HkDebug {
		hklog.Debug.Enable()
		dnslog.Debug.Enable()
	}

	return hkServer.ListenAndServe(ctx)
}

func (k *RfKit) Close() error {
	var errs []error

	if k.registry != nil {
		errs = append(errs, k.registry.Close())
	}

	if k.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mqttDisconnectTimeout)
		errs = append(errs, k.mqttClient.Disconnect(ctx))
		cancel()
	}

	for _, driver := range k.drivers {
		errs = append(errs, driver.Close())
	}

	if k.Influx != nil {
		errs = append(errs, k.Influx.Close())
	}

	return stderrors.Join(errs...)
}

func (k *RfKit) PrintStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== rf switchers ===")
	if k.registry != nil {
		for _, d := range k.registry.List() {
			snap := d.Snapshot()
			fmt.Fprintln(writer, "________")
			fmt.Fprintf(writer, "| switcher: %s (%s)\n", snap.Name, snap.UniqueId)
			fmt.Fprintf(writer, "| service: %s\n", d.sender)
			fmt.Fprintf(writer, "| availability: %s, stateless: %v\n", snap.Availability, snap.Stateless)
			fmt.Fprintln(writer, "--------")
		}
	}
	fmt.Fprintln(writer, "=== active input drivers ===")
	for driverName, driver := range k.drivers {
		fmt.Fprintf(writer, "| driver: %s, in pins: ", driverName)
		for _, inpin := range driver.GetAllInputs() {
			fmt.Fprintf(writer, "%d, ", inpin)
		}
		fmt.Fprintln(writer)
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}
