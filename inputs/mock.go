package inputs

import (
	"context"
	"fmt"
	"sync"
)

const mockDriverName = "mock_driver"

type MockInput struct {
	pin   uint16
	state bool
	err   error
	lock  sync.Mutex
}

func (mi *MockInput) GetState() (bool, error) {
	mi.lock.Lock()
	defer mi.lock.Unlock()

	return mi.state, mi.err
}

func (mi *MockInput) Set(state bool) {
	mi.lock.Lock()
	defer mi.lock.Unlock()

	mi.state = state
}

func (mi *MockInput) Fail(err error) {
	mi.lock.Lock()
	defer mi.lock.Unlock()

	mi.err = err
}

// MockDriver keeps inputs in memory; tests and dry runs press them with Set.
type MockDriver struct {
	inputs []*MockInput
	ready  bool
}

func (md *MockDriver) Setup(ctx context.Context, pins []uint16) error {
	for _, pin := range pins {
		md.inputs = append(md.inputs, &MockInput{pin: pin})
	}
	md.ready = true
	return nil
}

func (md *MockDriver) Close() error {
	md.ready = false
	return nil
}

func (md *MockDriver) String() string {
	return mockDriverName
}

func (md *MockDriver) IsReady() bool {
	return md.ready
}

func (md *MockDriver) GetInput(pin uint16) (DigitalInput, error) {
	return md.Input(pin)
}

func (md *MockDriver) Input(pin uint16) (*MockInput, error) {
	for _, input := range md.inputs {
		if pin == input.pin {
			return input, nil
		}
	}
	return nil, fmt.Errorf("mock input %d not found", pin)
}

func (md *MockDriver) GetAllInputs() (inputs []uint16) {
	for _, input := range md.inputs {
		inputs = append(inputs, input.pin)
	}
	return
}
