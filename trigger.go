package rf4ch

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/hubertat/rf4ch/inputs"
	"github.com/hubertat/rf4ch/switcher"
)

// Trigger binds a physical input to a switcher. A press toggles Channel, or
// runs Action when no channel is set.
type Trigger struct {
	Name       string `json:"name" yaml:"name"`
	DriverName string `json:"driver_name" yaml:"driver_name"`
	InPin      uint16 `json:"in_pin" yaml:"in_pin"`
	Switcher   string `json:"switcher" yaml:"switcher"`
	Channel    string `json:"channel" yaml:"channel"`
	Action     string `json:"action" yaml:"action"`

	input    inputs.DigitalInput
	registry *Registry
	channel  switcher.Channel
	action   switcher.Action
}

func (tr *Trigger) GetDriverName() string {
	return tr.DriverName
}

func (tr *Trigger) Init(driver inputs.Driver, registry *Registry) (err error) {
	if !strings.EqualFold(driver.String(), tr.DriverName) {
		return errors.Errorf("trigger %s: mismatched driver %s", tr.Name, driver)
	}
	if !driver.IsReady() {
		return errors.Errorf("trigger %s: driver %s not ready", tr.Name, driver)
	}

	switch {
	case len(tr.Channel) > 0:
		tr.channel, err = switcher.ParseChannel(tr.Channel)
	case len(tr.Action) > 0:
		tr.action, err = switcher.ParseAction(tr.Action)
	default:
		err = errors.New("channel or action required")
	}
	if err != nil {
		return errors.Wrapf(err, "trigger %s", tr.Name)
	}

	tr.input, err = driver.GetInput(tr.InPin)
	if err != nil {
		return errors.Wrapf(err, "trigger %s failed on getting input", tr.Name)
	}
	tr.registry = registry

	return nil
}

// Sync polls the input and fires on a rising edge.
func (tr *Trigger) Sync(edges *inputs.EdgeDetector) error {
	if tr.input == nil {
		return errors.Errorf("trigger %s not initialized", tr.Name)
	}

	pressed, err := edges.Pressed(tr.input)
	if err != nil {
		return errors.Wrapf(err, "trigger %s failed to read input", tr.Name)
	}
	if !pressed {
		return nil
	}
	return tr.Fire()
}

func (tr *Trigger) Fire() error {
	d, err := tr.registry.Get(tr.Switcher)
	if err != nil {
		return errors.Wrapf(err, "trigger %s", tr.Name)
	}

	if len(tr.Channel) > 0 {
		d.ToggleChannel(tr.channel)
		return nil
	}
	return d.HandleAction(tr.action)
}
