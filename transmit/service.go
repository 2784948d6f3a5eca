// Package transmit delivers switcher codes to the service that actually puts
// them on air, and spaces consecutive transmissions in time.
package transmit

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hubertat/go-ethereum/rpc"
	"github.com/pkg/errors"

	"github.com/hubertat/rf4ch/mqtt"
)

const (
	transportMqtt = "mqtt"
	transportRpc  = "rpc"
	transportLog  = "log"
)

// Service names the transmission target as "<transport>.<target>", e.g.
// "mqtt.cmnd/rfbridge/RfRaw" or "rpc.RF.Send", plus extra payload data.
type Service struct {
	Id       string         `json:"id" yaml:"id"`
	Data     map[string]any `json:"data" yaml:"data"`
	Endpoint string         `json:"endpoint" yaml:"endpoint"`
}

func (s Service) split() (transport, target string, err error) {
	transport, target, found := strings.Cut(s.Id, ".")
	if !found || len(transport) == 0 || len(target) == 0 {
		err = errors.Errorf("malformed service id %q (want <transport>.<target>)", s.Id)
	}
	return
}

// Payload builds the service call data: the code plus the configured extra
// data, which takes precedence on key collisions.
func (s Service) Payload(code string) map[string]any {
	payload := map[string]any{"code": code}
	for k, v := range s.Data {
		payload[k] = v
	}
	return payload
}

// Clone returns a copy that does not share the Data map.
func (s Service) Clone() Service {
	c := s
	if s.Data != nil {
		c.Data = make(map[string]any, len(s.Data))
		for k, v := range s.Data {
			c.Data[k] = v
		}
	}
	return c
}

func (s Service) Validate() error {
	transport, _, err := s.split()
	if err != nil {
		return err
	}

	switch transport {
	case transportMqtt, transportLog:
		return nil
	case transportRpc:
		if len(s.Endpoint) == 0 {
			return errors.Errorf("service %s requires an endpoint", s.Id)
		}
		return nil
	}
	return errors.Errorf("unknown transport %q in service id %s", transport, s.Id)
}

type Sender interface {
	Send(ctx context.Context, code string) error
	String() string
}

// NewSender builds the sender for svc. publisher may be nil unless svc uses
// the mqtt transport.
func NewSender(svc Service, publisher mqtt.Publisher, logger *log.Logger) (Sender, error) {
	err := svc.Validate()
	if err != nil {
		return nil, err
	}
	svc = svc.Clone()
	transport, target, _ := svc.split()

	switch transport {
	case transportMqtt:
		if publisher == nil {
			return nil, errors.Errorf("service %s needs an mqtt broker, none configured", svc.Id)
		}
		return &MqttSender{Topic: target, service: svc, publisher: publisher}, nil
	case transportRpc:
		return &RpcSender{Method: target, service: svc}, nil
	default:
		return &LogSender{Name: target, service: svc, logger: logger}, nil
	}
}

type MqttSender struct {
	Topic string

	service   Service
	publisher mqtt.Publisher
}

func (ms *MqttSender) Send(ctx context.Context, code string) error {
	payload, err := json.Marshal(ms.service.Payload(code))
	if err != nil {
		return errors.Wrap(err, "failed to encode mqtt payload")
	}
	return ms.publisher.Publish(ms.Topic, payload, false)
}

func (ms *MqttSender) String() string {
	return "mqtt:" + ms.Topic
}

// RpcSender calls a JSON-RPC method on the RF bridge, dialing lazily and
// keeping the client for later calls.
type RpcSender struct {
	Method string

	service Service
	client  *rpc.Client
}

func (rs *RpcSender) Send(ctx context.Context, code string) (err error) {
	if rs.client == nil {
		rs.client, err = rpc.DialContext(ctx, rs.service.Endpoint)
		if err != nil {
			return errors.Wrapf(err, "failed to rpc dial %s", rs.service.Endpoint)
		}
	}

	err = rs.client.CallContext(ctx, nil, rs.Method, rs.service.Payload(code))
	return errors.Wrapf(err, "rpc call %s failed", rs.Method)
}

func (rs *RpcSender) Close() error {
	if rs.client != nil {
		rs.client.Close()
		rs.client = nil
	}
	return nil
}

func (rs *RpcSender) String() string {
	return "rpc:" + rs.Method
}

// LogSender only logs what would have been sent. Useful to set a switcher up
// before the RF bridge is in place.
type LogSender struct {
	Name string

	service Service
	logger  *log.Logger
}

func (ls *LogSender) Send(ctx context.Context, code string) error {
	if ls.logger != nil {
		ls.logger.Info("dummy rf send", "service", ls.Name, "data", ls.service.Payload(code))
	}
	return nil
}

func (ls *LogSender) String() string {
	return "log:" + ls.Name
}
