package rf4ch

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/rf4ch/availability"
	"github.com/hubertat/rf4ch/switcher"
)

func TestDecodeFact(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
		want    any
		wantErr bool
	}{
		{"raw string", "online", "", "online", false},
		{"raw trimmed", " offline\n", "", "offline", false},
		{"json number", "-71", "", float64(-71), false},
		{"json bool", "true", "", true, false},
		{"json field", `{"rssi": -60, "state": "ON"}`, "state", "ON", false},
		{"missing field", `{"rssi": -60}`, "state", nil, true},
		{"field from scalar", `42`, "state", nil, true},
		{"field from text", `hello`, "state", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeFact([]byte(tt.payload), tt.field)
			if (err != nil) != tt.wantErr {
				t.Fatalf("got err %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v want %#v", got, tt.want)
			}
		})
	}
}

func TestFactFeeder(t *testing.T) {
	facts := availability.NewFacts()
	ff := &factFeeder{
		FactTopic: FactTopic{Name: "bridge", Topic: "tele/rfbridge/LWT"},
		facts:     facts,
		logger:    log.Default(),
	}

	if ff.MqttSubscribeTopic() != "tele/rfbridge/LWT" {
		t.Errorf("got topic %s", ff.MqttSubscribeTopic())
	}

	ff.MqttHandle(&paho.Publish{Topic: "tele/rfbridge/LWT", Payload: []byte("Online")})
	value, ok := facts.Get("bridge")
	if !ok || value != "Online" {
		t.Errorf("got %v, %v", value, ok)
	}
}

func TestCommandHandler(t *testing.T) {
	fp := newFakePublisher()
	r := newTestRegistry(t, fp)
	d, err := r.Add(testConfig("Garden"))
	if err != nil {
		t.Fatal(err)
	}

	ch := &commandHandler{base: "rf4ch", registry: r, logger: log.Default()}
	if ch.MqttSubscribeTopic() != "rf4ch/+/+/set" {
		t.Errorf("got topic %s", ch.MqttSubscribeTopic())
	}

	ch.MqttHandle(&paho.Publish{Topic: "rf4ch/garden/a/set", Payload: []byte("ON")})
	assertBools(t, d.Channel(switcher.ChannelA), true)

	ch.MqttHandle(&paho.Publish{Topic: "rf4ch/garden/b/set", Payload: []byte("toggle")})
	ch.MqttHandle(&paho.Publish{Topic: "rf4ch/garden/action/set", Payload: []byte("off")})
	assertCodes(t, waitCodes(t, fp, 3), []string{"0010", "1000", "0011"})

	errorCases := map[string][2]string{
		"unknown switcher": {"rf4ch/cellar/a/set", "on"},
		"unknown channel":  {"rf4ch/garden/e/set", "on"},
		"unknown payload":  {"rf4ch/garden/a/set", "maybe"},
		"unknown action":   {"rf4ch/garden/action/set", "dance"},
		"foreign base":     {"other/garden/a/set", "on"},
		"short topic":      {"rf4ch/garden/set", "on"},
	}
	for name, tc := range errorCases {
		t.Run(name, func(t *testing.T) {
			if err := ch.execute(tc[0], tc[1]); err == nil {
				t.Error("expected error")
			}
		})
	}
	assertNoCodes(t, fp)
}

func TestStatePublisher(t *testing.T) {
	fp := newFakePublisher()
	d := startDevice(t, testConfig("Garden"), Env{Publisher: fp})
	d.AddObserver(&statePublisher{base: "home/rf", publisher: fp})

	d.OverrideChannel(switcher.ChannelC, true)

	payload := fp.state("home/rf/garden/state")
	if payload == nil {
		t.Fatal("state not published")
	}
	snap := Snapshot{}
	err := json.Unmarshal(payload, &snap)
	if err != nil {
		t.Fatal(err)
	}
	if snap.UniqueId != "garden" || !snap.Channels["c"] || snap.Channels["a"] || !snap.Available {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}
