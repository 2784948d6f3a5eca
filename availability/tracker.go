package availability

import (
	"fmt"
	"sync"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusAvailable
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusUnavailable:
		return "unavailable"
	case StatusUnknown:
		return "unknown"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Available treats unknown as unavailable.
func (s Status) Available() bool {
	return s == StatusAvailable
}

// Subscription is the handle returned by Track. Release stops re-evaluation;
// calling it more than once is harmless.
type Subscription struct {
	once    sync.Once
	release func()
}

func (s *Subscription) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Track evaluates ev right away and every time one of its dependencies
// changes in facts. onChange receives every evaluation result; err is set
// when evaluation failed, in which case status is StatusUnknown.
func Track(facts *Facts, ev Evaluator, onChange func(status Status, err error)) *Subscription {
	var lock sync.Mutex

	evaluate := func() {
		lock.Lock()
		defer lock.Unlock()

		status := StatusUnknown
		ok, err := safeEvaluate(ev, facts.Snapshot())
		if err == nil {
			status = StatusUnavailable
			if ok {
				status = StatusAvailable
			}
		}
		onChange(status, err)
	}

	unsubscribe := facts.subscribe(ev.Dependencies(), evaluate)
	evaluate()

	return &Subscription{release: unsubscribe}
}

func safeEvaluate(ev Evaluator, env map[string]any) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("availability evaluation panicked: %v", r)
		}
	}()

	return ev.Evaluate(env)
}
