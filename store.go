package rf4ch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hubertat/rf4ch/switcher"
)

const historyTimeout = 3 * time.Second

// StateStore persists channel states and transmissions; history.Influx is the
// production implementation.
type StateStore interface {
	SaveStates(ctx context.Context, switcherId string, channels map[string]bool) error
	RecordTransmission(ctx context.Context, switcherId string, code string, sendErr error) error
	LastStates(ctx context.Context, switcherId string) (map[string]bool, error)
}

// stateRecorder is the observer writing every changed channel vector to the
// store. Stateless devices are not recorded.
type stateRecorder struct {
	store StateStore
	last  map[string]bool
	lock  sync.Mutex
}

func newStateRecorder(store StateStore) *stateRecorder {
	return &stateRecorder{store: store}
}

func (sr *stateRecorder) Refresh(d *Device) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	snap := d.Snapshot()
	if snap.Stateless || sameChannels(sr.last, snap.Channels) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	err := sr.store.SaveStates(ctx, d.Id(), snap.Channels)
	if err != nil {
		d.logger.Warn("failed to save channel states", "err", err)
		return
	}
	sr.last = snap.Channels
}

func sameChannels(a, b map[string]bool) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// RestoreFromStore loads the last recorded channel states of d and applies
// them as internal writes.
func RestoreFromStore(ctx context.Context, d *Device, store StateStore) error {
	states, err := store.LastStates(ctx, d.Id())
	if err != nil {
		return errors.Wrapf(err, "failed to restore %s", d.Id())
	}

	restored := make(map[switcher.Channel]bool, len(states))
	for name, on := range states {
		ch, err := switcher.ParseChannel(name)
		if err != nil {
			d.logger.Warn("ignoring stored state", "channel", name, "err", err)
			continue
		}
		restored[ch] = on
	}

	if len(restored) > 0 {
		d.Restore(restored)
		d.logger.Info("channel states restored", "states", states)
	}
	return nil
}
