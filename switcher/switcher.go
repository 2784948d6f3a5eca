// Package switcher implements the state machine of a four channel RF switcher:
// the tracked channel vector, the codes derived from configuration and the
// rules deciding which codes get transmitted for a requested change.
package switcher

import (
	"sync"

	"github.com/pkg/errors"
)

// SendFunc hands a code over to whatever transmits it. It is called with the
// switcher lock held and must not call back into the switcher.
type SendFunc func(code string)

type Options struct {
	Stateless bool `json:"stateless" yaml:"stateless"`
}

type Option func(*Switcher)

func WithInitialState(bits uint8) Option {
	return func(s *Switcher) {
		s.state = NewState(bits)
	}
}

func WithOptions(o Options) Option {
	return func(s *Switcher) {
		s.options = o
	}
}

type Switcher struct {
	code    Code
	state   State
	options Options
	send    SendFunc

	lock sync.Mutex
}

func New(code Code, send SendFunc, opts ...Option) *Switcher {
	s := &Switcher{
		code: code,
		send: send,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Switcher) transmit(code string) {
	if s.send != nil {
		s.send(code)
	}
}

// Channel returns the exposed value of ch; stateless switchers always read off.
func (s *Switcher) Channel(ch Channel) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.options.Stateless {
		return false
	}
	return s.state.Get(ch)
}

// SetChannel moves ch to on. A stateful switcher never transmits when ch is
// already on the requested value; onlyInternal records the value without
// transmitting. A stateless switcher ignores on and sends a pulse instead.
// The returned bool reports whether the tracked value changed.
func (s *Switcher) SetChannel(ch Channel, on bool, onlyInternal bool) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.options.Stateless {
		if !onlyInternal {
			s.toggle(ch, boolPtr(false))
		}
		return false
	}

	if s.state.Get(ch) == on {
		return false
	}

	s.state.Set(ch, on)
	if !onlyInternal {
		s.transmit(s.code.For(ch))
	}
	return true
}

// ToggleChannel flips ch (or forces it when force is set) and always sends the
// channel code, even if the value does not change.
func (s *Switcher) ToggleChannel(ch Channel, force *bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.toggle(ch, force)
}

func (s *Switcher) toggle(ch Channel, force *bool) {
	next := !s.state.Get(ch)
	if force != nil {
		next = *force
	}
	s.state.Set(ch, next)
	s.transmit(s.code.For(ch))
}

func (s *Switcher) TurnOnAll() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.state.TurnOnAll()
	s.transmit(s.code.On())
}

func (s *Switcher) TurnOffAll() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.state.TurnOffAll()
	s.transmit(s.code.Off())
}

// SyncChannels resends codes so the device matches the tracked state. A mixed
// state is rebuilt as OFF followed by the code of every channel that is on.
func (s *Switcher) SyncChannels() {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch {
	case s.state.IsAllOn():
		s.transmit(s.code.On())
	case s.state.IsAllOff():
		s.transmit(s.code.Off())
	default:
		s.transmit(s.code.Off())
		for _, ch := range Channels {
			if s.state.Get(ch) {
				s.transmit(s.code.For(ch))
			}
		}
	}
}

func (s *Switcher) HandleAction(a Action) error {
	switch a {
	case ActionOn:
		s.TurnOnAll()
	case ActionOff:
		s.TurnOffAll()
	case ActionSync:
		s.SyncChannels()
	default:
		return errors.Errorf("unsupported action %s", a)
	}
	return nil
}

func (s *Switcher) Options() Options {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.options
}

// SetOptions swaps options. Switching stateless mode on or off resets every
// channel to off internally, without transmitting anything.
func (s *Switcher) SetOptions(o Options) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if o.Stateless != s.options.Stateless {
		for _, ch := range Channels {
			s.state.Set(ch, false)
		}
	}
	s.options = o
}

// Snapshot returns the exposed value of every channel in A..D order.
func (s *Switcher) Snapshot() (values [channelCount]bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.options.Stateless {
		return
	}
	for _, ch := range Channels {
		values[ch] = s.state.Get(ch)
	}
	return
}

func (s *Switcher) String() string {
	s.lock.Lock()
	defer s.lock.Unlock()

	return "Switcher(state=" + s.state.String() + ")"
}

func boolPtr(b bool) *bool {
	return &b
}
