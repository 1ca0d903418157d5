package gpio

import "sync"

// FakeIndicator records every Set call.
type FakeIndicator struct {
	mu     sync.Mutex
	states []bool
	closed bool

	// SetError, if set, is returned by Set.
	SetError error
}

// NewFakeIndicator creates a FakeIndicator.
func NewFakeIndicator() *FakeIndicator {
	return &FakeIndicator{}
}

// Set records on.
func (f *FakeIndicator) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.states = append(f.states, on)
	return nil
}

// Close marks the indicator as closed.
func (f *FakeIndicator) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// States returns every value passed to Set, in order.
func (f *FakeIndicator) States() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.states...)
}

// Lit reports the last value set.
func (f *FakeIndicator) Lit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states) > 0 && f.states[len(f.states)-1]
}

// Closed reports whether Close was called.
func (f *FakeIndicator) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
