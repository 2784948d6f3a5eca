package rf4ch

import (
	"encoding/json"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/rf4ch/availability"
	"github.com/hubertat/rf4ch/mqtt"
	"github.com/hubertat/rf4ch/switcher"
)

const defaultBaseTopic = "rf4ch"
const actionTarget = "action"

// FactTopic feeds the payloads of an MQTT topic into the facts used by
// availability expressions. JSON payloads are decoded (Field picks one key of
// an object), anything else is stored as a string.
type FactTopic struct {
	Name  string `json:"name" yaml:"name"`
	Topic string `json:"topic" yaml:"topic"`
	Field string `json:"field" yaml:"field"`
}

type factFeeder struct {
	FactTopic

	facts  *availability.Facts
	logger *log.Logger
}

func (ff *factFeeder) MqttSubscribeTopic() string {
	return ff.Topic
}

func (ff *factFeeder) MqttHandle(pub *paho.Publish) {
	value, err := decodeFact(pub.Payload, ff.Field)
	if err != nil {
		ff.logger.Warn("ignoring fact payload", "fact", ff.Name, "topic", pub.Topic, "err", err)
		return
	}
	ff.facts.Set(ff.Name, value)
}

func decodeFact(payload []byte, field string) (any, error) {
	var decoded any
	err := json.Unmarshal(payload, &decoded)
	if err != nil {
		if len(field) > 0 {
			return nil, errors.Wrapf(err, "field %s requested from non json payload", field)
		}
		return strings.TrimSpace(string(payload)), nil
	}

	if len(field) == 0 {
		return decoded, nil
	}

	object, isObject := decoded.(map[string]any)
	if !isObject {
		return nil, errors.Errorf("field %s requested from non object payload", field)
	}
	value, found := object[field]
	if !found {
		return nil, errors.Errorf("field %s missing in payload", field)
	}
	return value, nil
}

// commandHandler executes "<base>/<uid>/<a|b|c|d|action>/set" messages.
// Channel payloads are on, off or toggle; action payloads name the action.
type commandHandler struct {
	base     string
	registry *Registry
	logger   *log.Logger
}

func (ch *commandHandler) MqttSubscribeTopic() string {
	return ch.base + "/+/+/set"
}

func (ch *commandHandler) MqttHandle(pub *paho.Publish) {
	err := ch.execute(pub.Topic, string(pub.Payload))
	if err != nil {
		ch.logger.Warn("mqtt command rejected", "topic", pub.Topic, "payload", string(pub.Payload), "err", err)
	}
}

func (ch *commandHandler) execute(topic, payload string) error {
	rest, found := strings.CutPrefix(topic, ch.base+"/")
	if !found {
		return errors.Errorf("topic outside of %s", ch.base)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" {
		return errors.New("malformed command topic")
	}

	d, err := ch.registry.Get(parts[0])
	if err != nil {
		return err
	}

	payload = strings.TrimSpace(payload)
	if parts[1] == actionTarget {
		action, err := switcher.ParseAction(payload)
		if err != nil {
			return err
		}
		return d.HandleAction(action)
	}

	channel, err := switcher.ParseChannel(parts[1])
	if err != nil {
		return err
	}

	switch strings.ToLower(payload) {
	case "on", "true", "1":
		d.SetChannel(channel, true)
	case "off", "false", "0":
		d.SetChannel(channel, false)
	case "toggle":
		d.ToggleChannel(channel)
	default:
		return errors.Errorf("unknown channel command %q", payload)
	}
	return nil
}

// statePublisher publishes the retained JSON snapshot of a device on
// "<base>/<uid>/state" after every change.
type statePublisher struct {
	base      string
	publisher mqtt.Publisher
}

func StateTopic(base, uid string) string {
	return base + "/" + uid + "/state"
}

func (sp *statePublisher) Refresh(d *Device) {
	payload, err := json.Marshal(d.Snapshot())
	if err != nil {
		d.logger.Error("failed to encode state", "err", err)
		return
	}

	err = sp.publisher.Publish(StateTopic(sp.base, d.Id()), payload, true)
	if err != nil {
		d.logger.Warn("failed to publish state", "err", err)
	}
}
