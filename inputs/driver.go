// Package inputs reads physical push buttons wired to GPIO or an MCP23017
// expander so they can trigger switcher channels and actions.
package inputs

import (
	"context"
	"sync"
)

type Driver interface {
	Setup(ctx context.Context, pins []uint16) error
	Close() error
	String() string
	IsReady() bool
	GetInput(pin uint16) (DigitalInput, error)
	GetAllInputs() []uint16
}

type DigitalInput interface {
	GetState() (bool, error)
}

// EdgeDetector remembers the last read of every input and reports a press
// when an input goes from released to pressed.
type EdgeDetector struct {
	last map[DigitalInput]bool
	lock sync.Mutex
}

func NewEdgeDetector() *EdgeDetector {
	return &EdgeDetector{last: make(map[DigitalInput]bool)}
}

// Pressed reads input and returns true only on a rising edge. The first read
// of an input only primes the detector.
func (ed *EdgeDetector) Pressed(input DigitalInput) (bool, error) {
	state, err := input.GetState()
	if err != nil {
		return false, err
	}

	ed.lock.Lock()
	defer ed.lock.Unlock()

	previous, seen := ed.last[input]
	ed.last[input] = state

	return seen && state && !previous, nil
}
