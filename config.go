package rf4ch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hubertat/rf4ch/availability"
	"github.com/hubertat/rf4ch/switcher"
	"github.com/hubertat/rf4ch/transmit"
)

// SwitcherConfig describes one RF switcher. It is immutable for the lifetime
// of a Device; reconfiguring builds a new Device.
type SwitcherConfig struct {
	Name     string              `json:"name" yaml:"name"`
	UniqueId string              `json:"unique_id" yaml:"unique_id"`
	Code     switcher.CodeConfig `json:"code" yaml:"code"`
	Service  transmit.Service    `json:"service" yaml:"service"`

	// Availability is an optional boolean expression over facts, e.g.
	// `bridge == "online" && rssi > -80`.
	Availability    string           `json:"availability" yaml:"availability"`
	TransmissionGap string           `json:"transmission_gap" yaml:"transmission_gap"`
	Options         switcher.Options `json:"options" yaml:"options"`
	DisableHomekit  bool             `json:"disable_homekit" yaml:"disable_homekit"`
}

func (sc SwitcherConfig) Id() string {
	if len(sc.UniqueId) > 0 {
		return sc.UniqueId
	}
	return Slug(sc.Name)
}

// Gap returns the spacing between transmissions; empty means
// transmit.DefaultGap and "0s" disables spacing.
func (sc SwitcherConfig) Gap() (time.Duration, error) {
	if len(sc.TransmissionGap) == 0 {
		return transmit.DefaultGap, nil
	}
	gap, err := time.ParseDuration(sc.TransmissionGap)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid transmission gap %s", sc.TransmissionGap)
	}
	if gap < 0 {
		return 0, errors.Errorf("transmission gap %s is negative", sc.TransmissionGap)
	}
	return gap, nil
}

func (sc SwitcherConfig) Validate() error {
	if len(sc.Id()) == 0 {
		return errors.New("switcher needs a name or unique id")
	}

	_, err := switcher.NewCode(sc.Code.WithDefaults())
	if err != nil {
		return errors.Wrapf(err, "switcher %s", sc.Id())
	}

	err = sc.Service.Validate()
	if err != nil {
		return errors.Wrapf(err, "switcher %s", sc.Id())
	}

	if len(sc.Availability) > 0 {
		_, err = availability.Compile(sc.Availability)
		if err != nil {
			return errors.Wrapf(err, "switcher %s", sc.Id())
		}
	}

	_, err = sc.Gap()
	return errors.Wrapf(err, "switcher %s", sc.Id())
}

// differsOnlyInOptions reports whether other can be applied to a running
// device without rebuilding it.
func (sc SwitcherConfig) differsOnlyInOptions(other SwitcherConfig) bool {
	a, b := sc, other
	a.Options, b.Options = switcher.Options{}, switcher.Options{}
	return reflect.DeepEqual(a, b)
}

// Slug lowercases name and replaces every run of characters other than
// letters and digits with a single underscore.
func Slug(name string) string {
	var sb strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pending = false
			sb.WriteRune(r)
			continue
		}
		pending = true
	}
	return sb.String()
}

// Load decodes the kit configuration, as YAML for .yaml/.yml files and as
// JSON otherwise.
func Load(path string) (*RfKit, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read config file %s", path)
	}

	kit := &RfKit{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(buf, kit)
	default:
		err = json.Unmarshal(buf, kit)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode config file %s", path)
	}

	return kit, nil
}
