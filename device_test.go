package rf4ch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hubertat/rf4ch/availability"
	"github.com/hubertat/rf4ch/switcher"
	"github.com/hubertat/rf4ch/transmit"
)

const sendTopic = "rf/send"

type fakePublisher struct {
	lock   sync.Mutex
	states map[string][]byte
	codes  chan string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		states: make(map[string][]byte),
		codes:  make(chan string, 64),
	}
}

func (fp *fakePublisher) Publish(topic string, payload []byte, retain bool) error {
	if topic != sendTopic {
		fp.lock.Lock()
		fp.states[topic] = payload
		fp.lock.Unlock()
		return nil
	}

	data := map[string]any{}
	err := json.Unmarshal(payload, &data)
	if err != nil {
		return err
	}
	fp.codes <- data["code"].(string)
	return nil
}

func (fp *fakePublisher) state(topic string) []byte {
	fp.lock.Lock()
	defer fp.lock.Unlock()

	return fp.states[topic]
}

func waitCodes(t testing.TB, fp *fakePublisher, n int) []string {
	t.Helper()

	got := []string{}
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case code := <-fp.codes:
			got = append(got, code)
		case <-timeout:
			t.Fatalf("timeout waiting for %d codes, got %v", n, got)
		}
	}
	return got
}

func assertNoCodes(t testing.TB, fp *fakePublisher) {
	t.Helper()

	select {
	case code := <-fp.codes:
		t.Errorf("unexpected transmission of %s", code)
	case <-time.After(50 * time.Millisecond):
	}
}

func assertCodes(t testing.TB, got, want []string) {
	t.Helper()

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got codes %v want %v", got, want)
	}
}

func assertBools(t testing.TB, got, want bool) {
	t.Helper()

	if got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func testConfig(name string) SwitcherConfig {
	return SwitcherConfig{
		Name:            name,
		Service:         transmit.Service{Id: "mqtt." + sendTopic},
		TransmissionGap: "0s",
	}
}

func startDevice(t testing.TB, config SwitcherConfig, env Env) *Device {
	t.Helper()

	d, err := NewDevice(config, env)
	if err != nil {
		t.Fatalf("failed to create device: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	t.Cleanup(func() {
		d.Close()
		cancel()
	})
	return d
}

type countingObserver struct {
	lock  sync.Mutex
	count int
}

func (co *countingObserver) Refresh(d *Device) {
	co.lock.Lock()
	defer co.lock.Unlock()
	co.count++
}

func (co *countingObserver) get() int {
	co.lock.Lock()
	defer co.lock.Unlock()
	return co.count
}

func TestDeviceSetChannel(t *testing.T) {
	fp := newFakePublisher()
	d := startDevice(t, testConfig("Garden"), Env{Publisher: fp})

	assertBools(t, d.SetChannel(switcher.ChannelA, true), true)
	assertCodes(t, waitCodes(t, fp, 1), []string{"0010"})
	assertBools(t, d.Channel(switcher.ChannelA), true)

	assertBools(t, d.SetChannel(switcher.ChannelA, true), false)
	assertNoCodes(t, fp)
}

func TestDeviceSyncMixedState(t *testing.T) {
	fp := newFakePublisher()
	d := startDevice(t, testConfig("Garden"), Env{Publisher: fp})

	d.Restore(map[switcher.Channel]bool{switcher.ChannelA: true, switcher.ChannelC: true})
	assertNoCodes(t, fp)

	d.SyncChannels()
	assertCodes(t, waitCodes(t, fp, 3), []string{"0011", "0010", "0001"})
}

func TestDeviceActions(t *testing.T) {
	fp := newFakePublisher()
	d := startDevice(t, testConfig("Garden"), Env{Publisher: fp})

	err := d.HandleAction(switcher.ActionOn)
	if err != nil {
		t.Fatal(err)
	}
	d.TurnOffAll()
	d.ToggleChannel(switcher.ChannelB)

	assertCodes(t, waitCodes(t, fp, 3), []string{"1100", "0011", "1000"})

	err = d.HandleAction(switcher.Action(42))
	if err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestDeviceOverrideChannel(t *testing.T) {
	fp := newFakePublisher()
	d := startDevice(t, testConfig("Garden"), Env{Publisher: fp})

	assertBools(t, d.OverrideChannel(switcher.ChannelD, true), true)
	assertBools(t, d.Channel(switcher.ChannelD), true)
	assertNoCodes(t, fp)
}

func TestDeviceStateless(t *testing.T) {
	fp := newFakePublisher()
	config := testConfig("Gate")
	config.Options.Stateless = true
	d := startDevice(t, config, Env{Publisher: fp})

	d.SetChannel(switcher.ChannelA, true)
	d.SetChannel(switcher.ChannelA, true)
	assertCodes(t, waitCodes(t, fp, 2), []string{"0010", "0010"})
	assertBools(t, d.Channel(switcher.ChannelA), false)

	snap := d.Snapshot()
	assertBools(t, snap.Stateless, true)
	assertBools(t, snap.Channels["a"], false)
}

func TestDeviceSetOptionsResets(t *testing.T) {
	fp := newFakePublisher()
	d := startDevice(t, testConfig("Garden"), Env{Publisher: fp})

	d.OverrideChannel(switcher.ChannelB, true)
	d.SetOptions(switcher.Options{Stateless: true})
	d.SetOptions(switcher.Options{Stateless: false})

	assertBools(t, d.Channel(switcher.ChannelB), false)
	assertBools(t, d.Config().Options.Stateless, false)
	assertNoCodes(t, fp)
}

func TestDeviceAvailabilityFailureSafety(t *testing.T) {
	fp := newFakePublisher()
	facts := availability.NewFacts()
	config := testConfig("Garden")
	config.Availability = `bridge == "online"`

	d := startDevice(t, config, Env{Publisher: fp, Facts: facts})

	if d.Availability() != availability.StatusUnknown {
		t.Errorf("got %s want unknown", d.Availability())
	}
	assertBools(t, d.Available(), false)
	if d.AvailabilityErr() == nil {
		t.Error("expected evaluation error to be kept")
	}

	d.SetChannel(switcher.ChannelC, true)
	err := d.HandleAction(switcher.ActionSync)
	if err != nil {
		t.Fatal(err)
	}
	assertCodes(t, waitCodes(t, fp, 3), []string{"0001", "0011", "0001"})

	observer := &countingObserver{}
	d.AddObserver(observer)

	facts.Set("bridge", "online")
	assertBools(t, d.Available(), true)
	if observer.get() != 1 {
		t.Errorf("observer refreshed %d times, want 1", observer.get())
	}

	facts.Set("bridge", "offline")
	if d.Availability() != availability.StatusUnavailable {
		t.Errorf("got %s want unavailable", d.Availability())
	}
}

func TestDeviceWithoutExpressionIsAvailable(t *testing.T) {
	d := startDevice(t, testConfig("Garden"), Env{Publisher: newFakePublisher()})

	assertBools(t, d.Available(), true)
}

func TestDeviceObservers(t *testing.T) {
	fp := newFakePublisher()
	d := startDevice(t, testConfig("Garden"), Env{Publisher: fp})

	observer := &countingObserver{}
	release := d.AddObserver(observer)

	d.SetChannel(switcher.ChannelA, true)
	d.ToggleChannel(switcher.ChannelA)
	if observer.get() != 2 {
		t.Errorf("observer refreshed %d times, want 2", observer.get())
	}

	release()
	release()
	d.TurnOnAll()
	if observer.get() != 2 {
		t.Errorf("released observer still refreshed (%d)", observer.get())
	}
}

func TestNewDeviceErrors(t *testing.T) {
	t.Run("mqtt service without publisher", func(t *testing.T) {
		_, err := NewDevice(testConfig("Garden"), Env{})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("broken availability", func(t *testing.T) {
		config := testConfig("Garden")
		config.Availability = "bridge =="
		_, err := NewDevice(config, Env{Publisher: newFakePublisher()})
		if err == nil {
			t.Error("expected error")
		}
	})
}

func TestDevicePrefixedCodes(t *testing.T) {
	fp := newFakePublisher()
	config := testConfig("Garden")
	config.Code = switcher.CodeConfig{Prefix: "AAB0", ChannelB: "1111"}
	d := startDevice(t, config, Env{Publisher: fp})

	d.SetChannel(switcher.ChannelB, true)
	d.SetChannel(switcher.ChannelD, true)
	assertCodes(t, waitCodes(t, fp, 2), []string{"AAB01111", "AAB00100"})
}

func TestDeviceCloseDrainsQueue(t *testing.T) {
	fp := newFakePublisher()
	config := testConfig("Garden")
	config.TransmissionGap = "10ms"

	d, err := NewDevice(config, Env{Publisher: fp})
	if err != nil {
		t.Fatal(err)
	}
	d.Start(context.Background())

	d.TurnOnAll()
	d.TurnOffAll()
	err = d.Close()
	if err != nil {
		t.Fatal(err)
	}

	assertCodes(t, waitCodes(t, fp, 2), []string{"1100", "0011"})

	d.TurnOnAll()
	assertNoCodes(t, fp)
}
