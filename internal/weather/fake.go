package weather

import (
	"context"
	"sync"
)

// FakeFetcher returns a configured reading and counts calls.
type FakeFetcher struct {
	mu sync.Mutex

	// Weather is returned by Fetch when Err is nil.
	Weather Weather

	// Err, if set, is returned by Fetch.
	Err error

	calls     int
	locations []Location
}

// NewFakeFetcher creates a FakeFetcher returning w.
func NewFakeFetcher(w Weather) *FakeFetcher {
	return &FakeFetcher{Weather: w}
}

// Fetch records the call and returns the configured result.
func (f *FakeFetcher) Fetch(_ context.Context, loc Location) (Weather, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.locations = append(f.locations, loc)
	if f.Err != nil {
		return Weather{}, f.Err
	}
	return f.Weather, nil
}

// Calls returns how many times Fetch was called.
func (f *FakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// SetErr changes the error returned by subsequent calls.
func (f *FakeFetcher) SetErr(err error) {
	f.mu.Lock()
	f.Err = err
	f.mu.Unlock()
}
