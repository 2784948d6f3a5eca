// Package history keeps switcher channel states and transmissions in InfluxDB
// and reads the last known states back when a switcher starts.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/pkg/errors"
)

const defaultMeasurement = "rf4ch"
const defaultLookback = "-30d"

const (
	fieldOn   = "on"
	fieldCode = "code"
	fieldOk   = "ok"

	tagSwitcher = "switcher"
	tagChannel  = "channel"
	tagKind     = "kind"

	kindState        = "state"
	kindTransmission = "transmission"
)

type Influx struct {
	Host         string `json:"host" yaml:"host"`
	Organization string `json:"organization" yaml:"organization"`
	Bucket       string `json:"bucket" yaml:"bucket"`
	Measurement  string `json:"measurement" yaml:"measurement"`
	Token        string `json:"token" yaml:"token"`
	Lookback     string `json:"lookback" yaml:"lookback"`

	client influxdb2.Client
	writer api.WriteAPIBlocking
	reader api.QueryAPI
	ready  bool
}

func (in *Influx) measurement() string {
	if len(in.Measurement) > 0 {
		return in.Measurement
	}
	return defaultMeasurement
}

func (in *Influx) lookback() string {
	if len(in.Lookback) > 0 {
		return in.Lookback
	}
	return defaultLookback
}

func (in *Influx) Setup(ctx context.Context) error {
	in.client = influxdb2.NewClient(in.Host, in.Token)

	ok, err := in.client.Ready(ctx)
	if err != nil {
		in.client.Close()
		return errors.Wrapf(err, "influx at %s not reachable", in.Host)
	}
	if !ok {
		in.client.Close()
		return errors.Errorf("influx at %s not ready", in.Host)
	}

	in.writer = in.client.WriteAPIBlocking(in.Organization, in.Bucket)
	in.reader = in.client.QueryAPI(in.Organization)
	in.ready = true
	return nil
}

func (in *Influx) IsReady() bool {
	return in.ready
}

func (in *Influx) Close() error {
	if in.client != nil {
		in.client.Close()
	}
	in.ready = false
	return nil
}

// SaveStates writes one point per channel. channels maps channel names
// ("a".."d") to their value.
func (in *Influx) SaveStates(ctx context.Context, switcherId string, channels map[string]bool) error {
	now := time.Now()
	for name, on := range channels {
		p := influxdb2.NewPoint(in.measurement(),
			map[string]string{tagSwitcher: switcherId, tagChannel: name, tagKind: kindState},
			map[string]interface{}{fieldOn: on},
			now)
		err := in.writer.WritePoint(ctx, p)
		if err != nil {
			return errors.Wrapf(err, "failed to write state of %s/%s", switcherId, name)
		}
	}
	return nil
}

func (in *Influx) RecordTransmission(ctx context.Context, switcherId string, code string, sendErr error) error {
	p := influxdb2.NewPoint(in.measurement(),
		map[string]string{tagSwitcher: switcherId, tagKind: kindTransmission},
		map[string]interface{}{fieldCode: code, fieldOk: sendErr == nil},
		time.Now())

	return errors.Wrap(in.writer.WritePoint(ctx, p), "failed to write transmission")
}

// LastStates returns the most recent recorded value of every channel of the
// switcher. Channels never recorded are absent from the map.
func (in *Influx) LastStates(ctx context.Context, switcherId string) (map[string]bool, error) {
	tableResult, err := in.reader.Query(ctx, in.prepareLastStatesQuery(switcherId))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query last states of %s", switcherId)
	}
	defer tableResult.Close()

	states := make(map[string]bool)
	for tableResult.Next() {
		name, on, ok := parseStateRecord(tableResult.Record())
		if ok {
			states[name] = on
		}
	}
	if tableResult.Err() != nil {
		return nil, errors.Wrap(tableResult.Err(), "got error parsing result table")
	}

	return states, nil
}

func (in *Influx) prepareLastStatesQuery(switcherId string) string {
	return fmt.Sprintf(`
from(bucket: "%s")
|> range(start: %s)
|> filter(fn: (r) => r["_measurement"] == "%s")
|> filter(fn: (r) => r["%s"] == "%s" and r["%s"] == "%s")
|> filter(fn: (r) => r["_field"] == "%s")
|> group(columns: ["%s"])
|> last()
`, in.Bucket, in.lookback(), in.measurement(), tagKind, kindState, tagSwitcher, escape(switcherId), fieldOn, tagChannel)
}

func parseStateRecord(record *query.FluxRecord) (channel string, on bool, ok bool) {
	channel, ok = record.ValueByKey(tagChannel).(string)
	if !ok {
		return
	}
	on, ok = record.Value().(bool)
	return
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
