package rf4ch

import (
	"hash/fnv"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/charmbracelet/log"

	"github.com/hubertat/rf4ch/switcher"
)

const momentaryReset = 500 * time.Millisecond

// hkSwitcher exposes one device as a HomeKit accessory: a switch per channel,
// a momentary switch per action and a StatusFault following availability.
// It resolves the device through the registry on every call so it survives
// the device being rebuilt.
type hkSwitcher struct {
	uid      string
	registry *Registry
	logger   *log.Logger

	hk       *accessory.A
	channels [len(switcher.Channels)]*service.Switch
	actions  map[switcher.Action]*service.Switch
	fault    *characteristic.StatusFault
}

func hkUniqueId(uid string) uint64 {
	hash := fnv.New64()
	hash.Write([]byte("RfSwitcher_" + uid))
	return hash.Sum64()
}

func newHkSwitcher(d *Device, registry *Registry, logger *log.Logger) *hkSwitcher {
	hs := &hkSwitcher{
		uid:      d.Id(),
		registry: registry,
		logger:   logger,
		actions:  make(map[switcher.Action]*service.Switch),
	}

	hs.hk = accessory.New(accessory.Info{
		Name:         d.Name(),
		SerialNumber: "rf4ch:" + d.Id(),
		Manufacturer: homeKitBridgeAuthor,
	}, accessory.TypeSwitch)
	hs.hk.Id = hkUniqueId(d.Id())

	hs.fault = characteristic.NewStatusFault()

	for _, ch := range switcher.Channels {
		ch := ch
		s := newNamedSwitch(d.Name() + " " + ch.String())
		s.On.OnValueRemoteUpdate(func(on bool) {
			hs.setChannel(ch, on)
		})
		hs.channels[ch] = s
		hs.hk.AddS(s.S)
	}
	hs.channels[switcher.ChannelA].AddC(hs.fault.C)

	for _, a := range switcher.Actions {
		a := a
		s := newNamedSwitch(d.Name() + " " + a.String())
		s.On.OnValueRemoteUpdate(func(on bool) {
			if on {
				hs.trigger(a, s)
			}
		})
		hs.actions[a] = s
		hs.hk.AddS(s.S)
	}

	hs.Refresh(d)
	return hs
}

func newNamedSwitch(name string) *service.Switch {
	s := service.NewSwitch()
	n := characteristic.NewName()
	n.SetValue(name)
	s.AddC(n.C)
	return s
}

func (hs *hkSwitcher) setChannel(ch switcher.Channel, on bool) {
	d, err := hs.registry.Get(hs.uid)
	if err != nil {
		hs.logger.Warn("homekit request for missing switcher", "switcher", hs.uid, "err", err)
		return
	}
	d.SetChannel(ch, on)
}

func (hs *hkSwitcher) trigger(a switcher.Action, s *service.Switch) {
	time.AfterFunc(momentaryReset, func() {
		s.On.SetValue(false)
	})

	d, err := hs.registry.Get(hs.uid)
	if err != nil {
		hs.logger.Warn("homekit request for missing switcher", "switcher", hs.uid, "err", err)
		return
	}
	err = d.HandleAction(a)
	if err != nil {
		hs.logger.Error("homekit action failed", "switcher", hs.uid, "action", a, "err", err)
	}
}

func (hs *hkSwitcher) Refresh(d *Device) {
	values := d.sw.Snapshot()
	for _, ch := range switcher.Channels {
		hs.channels[ch].On.SetValue(values[ch])
	}

	if d.Available() {
		hs.fault.SetValue(characteristic.StatusFaultNoFault)
	} else {
		hs.fault.SetValue(characteristic.StatusFaultGeneralFault)
	}
}

func (hs *hkSwitcher) GetHk() *accessory.A {
	return hs.hk
}
