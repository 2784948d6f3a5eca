package rf4ch

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/rf4ch/availability"
	"github.com/hubertat/rf4ch/metrics"
	"github.com/hubertat/rf4ch/mqtt"
	"github.com/hubertat/rf4ch/switcher"
	"github.com/hubertat/rf4ch/transmit"
)

const queueDrainTimeout = 5 * time.Second

type ChannelReader interface {
	Channel(ch switcher.Channel) bool
}

type ChannelWriter interface {
	SetChannel(ch switcher.Channel, on bool) bool
	ToggleChannel(ch switcher.Channel)
}

type ActionTrigger interface {
	HandleAction(a switcher.Action) error
}

type AvailabilityReader interface {
	Available() bool
	Availability() availability.Status
}

// Observer is notified after every state, option or availability change of a
// device. Refresh is called outside of the device locks.
type Observer interface {
	Refresh(d *Device)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(d *Device)

func (f ObserverFunc) Refresh(d *Device) {
	f(d)
}

// Env carries the collaborators shared by all devices of a kit. Every field is
// optional except when the switcher service needs it (Publisher for mqtt).
type Env struct {
	Publisher mqtt.Publisher
	Facts     *availability.Facts
	Metrics   *metrics.Metrics
	History   StateStore
	Logger    *log.Logger
}

type Snapshot struct {
	UniqueId     string          `json:"unique_id"`
	Name         string          `json:"name"`
	Available    bool            `json:"available"`
	Availability string          `json:"availability"`
	Stateless    bool            `json:"stateless"`
	Channels     map[string]bool `json:"channels"`
}

// Device binds a switcher to its transmission queue, availability tracking
// and the observers exposing it.
type Device struct {
	config SwitcherConfig
	id     string

	sw         *switcher.Switcher
	sender     transmit.Sender
	queue      *transmit.Queue
	expression *availability.Expression
	env        Env
	logger     *log.Logger

	lock         sync.RWMutex
	status       availability.Status
	statusErr    error
	subscription *availability.Subscription
	observers    map[int]Observer
	nextObserver int
	started      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

func NewDevice(config SwitcherConfig, env Env, opts ...switcher.Option) (*Device, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	d := &Device{
		config:    config,
		id:        config.Id(),
		env:       env,
		observers: make(map[int]Observer),
		status:    availability.StatusAvailable,
	}

	d.logger = env.Logger
	if d.logger == nil {
		d.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "RfKit",
			Level:  log.GetLevel(),
		})
	}
	d.logger = d.logger.With("switcher", d.id)

	code, err := switcher.NewCode(config.Code.WithDefaults())
	if err != nil {
		return nil, errors.Wrapf(err, "switcher %s", d.id)
	}

	d.sender, err = transmit.NewSender(config.Service, env.Publisher, d.logger)
	if err != nil {
		return nil, errors.Wrapf(err, "switcher %s", d.id)
	}

	gap, _ := config.Gap()
	d.queue = transmit.NewQueue(d.sender, gap, d.logger)
	d.queue.OnSent = d.onSent

	if len(config.Availability) > 0 {
		d.expression, err = availability.Compile(config.Availability)
		if err != nil {
			return nil, errors.Wrapf(err, "switcher %s", d.id)
		}
		d.status = availability.StatusUnknown
	}

	opts = append([]switcher.Option{switcher.WithOptions(config.Options)}, opts...)
	d.sw = switcher.New(code, d.enqueue, opts...)

	return d, nil
}

func (d *Device) enqueue(code string) {
	d.queue.Enqueue(code)
	d.env.Metrics.QueueDepth(d.id, d.queue.Len())
}

func (d *Device) onSent(code string, took time.Duration, err error) {
	d.env.Metrics.Transmission(d.id, took, err)
	d.env.Metrics.QueueDepth(d.id, d.queue.Len())

	if d.env.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	recErr := d.env.History.RecordTransmission(ctx, d.id, code, err)
	if recErr != nil {
		d.logger.Warn("failed to record transmission", "err", recErr)
	}
}

func (d *Device) Id() string {
	return d.id
}

func (d *Device) Name() string {
	return d.config.Name
}

func (d *Device) Config() SwitcherConfig {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.config
}

func (d *Device) Channel(ch switcher.Channel) bool {
	return d.sw.Channel(ch)
}

// SetChannel requests ch to be on or off. It reports whether the tracked value
// changed; nothing is transmitted when it did not (stateless switchers pulse).
func (d *Device) SetChannel(ch switcher.Channel, on bool) bool {
	changed := d.sw.SetChannel(ch, on, false)
	d.changed("set_" + ch.String())
	return changed
}

func (d *Device) ToggleChannel(ch switcher.Channel) {
	d.sw.ToggleChannel(ch, nil)
	d.changed("toggle_" + ch.String())
}

// OverrideChannel corrects the tracked value of ch without transmitting.
func (d *Device) OverrideChannel(ch switcher.Channel, on bool) bool {
	changed := d.sw.SetChannel(ch, on, true)
	d.changed("override_" + ch.String())
	return changed
}

func (d *Device) TurnOnAll() {
	d.sw.TurnOnAll()
	d.changed("on")
}

func (d *Device) TurnOffAll() {
	d.sw.TurnOffAll()
	d.changed("off")
}

func (d *Device) SyncChannels() {
	d.sw.SyncChannels()
	d.changed("sync")
}

func (d *Device) HandleAction(a switcher.Action) error {
	err := d.sw.HandleAction(a)
	if err != nil {
		return errors.Wrapf(err, "switcher %s", d.id)
	}
	d.changed(a.String())
	return nil
}

func (d *Device) Options() switcher.Options {
	return d.sw.Options()
}

func (d *Device) SetOptions(o switcher.Options) {
	d.sw.SetOptions(o)

	d.lock.Lock()
	d.config.Options = o
	d.lock.Unlock()

	d.changed("options")
}

// Restore accepts previously persisted channel values through internal writes.
func (d *Device) Restore(states map[switcher.Channel]bool) {
	for ch, on := range states {
		d.sw.SetChannel(ch, on, true)
	}
	d.changed("restore")
}

func (d *Device) Available() bool {
	return d.Availability().Available()
}

func (d *Device) Availability() availability.Status {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.status
}

// AvailabilityErr returns the error of the last failed availability
// evaluation, if any.
func (d *Device) AvailabilityErr() error {
	d.lock.RLock()
	defer d.lock.RUnlock()

	return d.statusErr
}

func (d *Device) Snapshot() Snapshot {
	values := d.sw.Snapshot()
	snap := Snapshot{
		UniqueId:     d.id,
		Name:         d.config.Name,
		Availability: d.Availability().String(),
		Available:    d.Available(),
		Stateless:    d.Options().Stateless,
		Channels:     make(map[string]bool, len(values)),
	}
	for _, ch := range switcher.Channels {
		snap.Channels[ch.String()] = values[ch]
	}
	return snap
}

// AddObserver registers o and returns the function detaching it.
func (d *Device) AddObserver(o Observer) (release func()) {
	d.lock.Lock()
	defer d.lock.Unlock()

	id := d.nextObserver
	d.nextObserver++
	d.observers[id] = o

	var once sync.Once
	return func() {
		once.Do(func() {
			d.lock.Lock()
			defer d.lock.Unlock()
			delete(d.observers, id)
		})
	}
}

func (d *Device) changed(operation string) {
	d.env.Metrics.StateChange(d.id, operation)
	d.notify()
}

func (d *Device) notify() {
	d.lock.RLock()
	observers := make([]Observer, 0, len(d.observers))
	for _, o := range d.observers {
		observers = append(observers, o)
	}
	d.lock.RUnlock()

	for _, o := range observers {
		o.Refresh(d)
	}
}

func (d *Device) onAvailability(status availability.Status, err error) {
	d.lock.Lock()
	previous := d.status
	d.status = status
	d.statusErr = err
	d.lock.Unlock()

	if err != nil {
		d.logger.Error("availability evaluation failed", "expression", d.expression, "err", err)
	}
	d.env.Metrics.Availability(d.id, int(status))

	if previous != status {
		d.logger.Info("availability changed", "from", previous, "to", status)
		d.notify()
	}
}

// Start runs the transmission worker and begins tracking availability. The
// worker stops when ctx is done or the device is closed.
func (d *Device) Start(ctx context.Context) {
	d.lock.Lock()
	if d.started {
		d.lock.Unlock()
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.lock.Unlock()

	go func() {
		defer close(d.done)
		d.queue.Run(ctx)
	}()

	if d.expression == nil {
		d.env.Metrics.Availability(d.id, int(availability.StatusAvailable))
		return
	}

	facts := d.env.Facts
	if facts == nil {
		facts = availability.NewFacts()
	}
	sub := availability.Track(facts, d.expression, d.onAvailability)

	d.lock.Lock()
	d.subscription = sub
	d.lock.Unlock()
}

// Close stops availability tracking and the queue. Codes already queued are
// still sent, unless that takes longer than queueDrainTimeout.
func (d *Device) Close() error {
	d.lock.Lock()
	sub := d.subscription
	d.subscription = nil
	cancel, done := d.cancel, d.done
	d.lock.Unlock()

	sub.Release()
	d.queue.Close()

	if done != nil {
		select {
		case <-done:
		case <-time.After(queueDrainTimeout):
			d.logger.Warn("transmission queue not drained, dropping", "pending", d.queue.Len())
		}
		cancel()
		<-done
	}

	if closer, ok := d.sender.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (d *Device) String() string {
	return d.id + ":" + d.sw.String()
}
