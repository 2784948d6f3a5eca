// Package availability decides whether a switcher is reachable by evaluating
// a boolean expression over live facts, re-evaluating whenever a fact the
// expression depends on changes.
package availability

import (
	"reflect"
	"sync"
)

// Facts is the live state expressions are evaluated against, typically fed
// from MQTT topics.
type Facts struct {
	lock   sync.RWMutex
	values map[string]any
	subs   map[int]*factSub
	nextId int
}

type factSub struct {
	deps     map[string]bool
	callback func()
}

func NewFacts() *Facts {
	return &Facts{
		values: make(map[string]any),
		subs:   make(map[int]*factSub),
	}
}

// Set stores value under name and notifies dependents if it changed.
func (f *Facts) Set(name string, value any) {
	f.lock.Lock()
	old, exists := f.values[name]
	if exists && reflect.DeepEqual(old, value) {
		f.lock.Unlock()
		return
	}
	f.values[name] = value

	callbacks := []func(){}
	for _, sub := range f.subs {
		if sub.deps[name] {
			callbacks = append(callbacks, sub.callback)
		}
	}
	f.lock.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

func (f *Facts) Get(name string) (value any, ok bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	value, ok = f.values[name]
	return
}

// Snapshot copies every fact; expressions are evaluated against the copy.
func (f *Facts) Snapshot() map[string]any {
	f.lock.RLock()
	defer f.lock.RUnlock()

	snap := make(map[string]any, len(f.values))
	for k, v := range f.values {
		snap[k] = v
	}
	return snap
}

func (f *Facts) subscribe(deps []string, callback func()) (unsubscribe func()) {
	f.lock.Lock()
	defer f.lock.Unlock()

	sub := &factSub{deps: make(map[string]bool), callback: callback}
	for _, d := range deps {
		sub.deps[d] = true
	}

	id := f.nextId
	f.nextId++
	f.subs[id] = sub

	return func() {
		f.lock.Lock()
		defer f.lock.Unlock()
		delete(f.subs, id)
	}
}
