package rf4ch

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/hubertat/rf4ch/switcher"
)

var ErrSwitcherNotFound = errors.New("switcher not found")

// Registry holds the live devices. Devices added to it are started with the
// registry context and closed when removed.
type Registry struct {
	// OnAdd is called for every device entering the registry, including
	// rebuilt ones, before it is started.
	OnAdd func(d *Device)

	env     Env
	ctx     context.Context
	devices map[string]*Device
	lock    sync.RWMutex
}

func NewRegistry(ctx context.Context, env Env) *Registry {
	return &Registry{
		env:     env,
		ctx:     ctx,
		devices: make(map[string]*Device),
	}
}

func (r *Registry) Env() Env {
	return r.env
}

// Add builds a device for config and starts it.
func (r *Registry) Add(config SwitcherConfig, opts ...switcher.Option) (*Device, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.add(config, opts...)
}

func (r *Registry) add(config SwitcherConfig, opts ...switcher.Option) (*Device, error) {
	id := config.Id()
	if _, exists := r.devices[id]; exists {
		return nil, errors.Errorf("switcher %s already registered", id)
	}

	d, err := NewDevice(config, r.env, opts...)
	if err != nil {
		return nil, err
	}

	if r.OnAdd != nil {
		r.OnAdd(d)
	}
	d.Start(r.ctx)
	r.devices[id] = d

	return d, nil
}

func (r *Registry) Get(id string) (*Device, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	d, found := r.devices[id]
	if !found {
		return nil, errors.Wrap(ErrSwitcherNotFound, id)
	}
	return d, nil
}

func (r *Registry) Remove(id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.remove(id)
}

func (r *Registry) remove(id string) error {
	d, found := r.devices[id]
	if !found {
		return errors.Wrap(ErrSwitcherNotFound, id)
	}
	delete(r.devices, id)
	return d.Close()
}

// List returns the devices sorted by id.
func (r *Registry) List() []*Device {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Id() < list[j].Id()
	})
	return list
}

// Apply reconciles the registry with configs: unknown ids are added, missing
// ones removed and changed ones updated. A change limited to options is
// applied in place; any other change rebuilds the device, carrying the channel
// state over through internal writes.
func (r *Registry) Apply(configs []SwitcherConfig) error {
	for _, config := range configs {
		err := config.Validate()
		if err != nil {
			return err
		}
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	wanted := make(map[string]SwitcherConfig, len(configs))
	for _, config := range configs {
		id := config.Id()
		if _, duplicate := wanted[id]; duplicate {
			return errors.Errorf("duplicate switcher id %s", id)
		}
		wanted[id] = config
	}

	var errs []error
	for id := range r.devices {
		if _, keep := wanted[id]; !keep {
			errs = append(errs, r.remove(id))
		}
	}

	for id, config := range wanted {
		current, exists := r.devices[id]
		switch {
		case !exists:
			_, err := r.add(config)
			errs = append(errs, err)
		case current.Config().differsOnlyInOptions(config):
			if current.Options() != config.Options {
				current.SetOptions(config.Options)
			}
		default:
			errs = append(errs, r.rebuild(current, config))
		}
	}

	return errors.Wrap(stderrors.Join(errs...), "failed to apply switcher configs")
}

func (r *Registry) rebuild(current *Device, config SwitcherConfig) error {
	values := current.sw.Snapshot()
	stateless := current.Options().Stateless

	err := r.remove(current.Id())
	if err != nil {
		current.logger.Warn("closing replaced switcher failed", "err", err)
	}

	d, err := r.add(config)
	if err != nil {
		return err
	}

	if !stateless && !config.Options.Stateless {
		states := make(map[switcher.Channel]bool, len(values))
		for _, ch := range switcher.Channels {
			states[ch] = values[ch]
		}
		d.Restore(states)
	}
	d.logger.Info("switcher rebuilt with new config")
	return nil
}

// Close closes every device.
func (r *Registry) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	var errs []error
	for id := range r.devices {
		errs = append(errs, r.remove(id))
	}
	return stderrors.Join(errs...)
}
