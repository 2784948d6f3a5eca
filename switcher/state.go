package switcher

import "fmt"

const (
	allOff uint8 = 0b0000
	allOn  uint8 = 0b1111
)

// State is the 4-bit vector of channel values, bit i holding channel i.
type State struct {
	bits uint8
}

// NewState seeds a state; bits above the fourth are dropped.
func NewState(seed uint8) State {
	return State{bits: seed & allOn}
}

func (s *State) Get(ch Channel) bool {
	return s.bits&ch.mask() != 0
}

func (s *State) Set(ch Channel, on bool) {
	if on {
		s.bits |= ch.mask()
	} else {
		s.bits &^= ch.mask()
	}
}

func (s *State) TurnOnAll() {
	s.bits = allOn
}

func (s *State) TurnOffAll() {
	s.bits = allOff
}

func (s *State) IsAllOn() bool {
	return s.bits == allOn
}

func (s *State) IsAllOff() bool {
	return s.bits == allOff
}

func (s *State) Bits() uint8 {
	return s.bits
}

func (s State) String() string {
	return fmt.Sprintf("0b%04b", s.bits)
}
