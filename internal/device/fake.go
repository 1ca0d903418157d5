package device

import (
	"context"
	"sync"
)

// FakeSource is a Source with settable values, for tests.
type FakeSource struct {
	mu sync.Mutex

	lastSeen int64
	reading  *SensorReading
	status   *Status

	lastSeenErr error
	sensorsErr  error
	statusErr   error

	sensorCalls int
	statusCalls int
}

// NewFakeSource creates an empty FakeSource (never seen, no data).
func NewFakeSource() *FakeSource {
	return &FakeSource{}
}

// SetLastSeen sets the epoch-ms timestamp returned by LastSeen.
func (f *FakeSource) SetLastSeen(ms int64) {
	f.mu.Lock()
	f.lastSeen = ms
	f.mu.Unlock()
}

// SetReading sets the reading returned by Sensors. A nil reading means none.
func (f *FakeSource) SetReading(r *SensorReading) {
	f.mu.Lock()
	f.reading = r
	f.mu.Unlock()
}

// SetStatus sets the status returned by Status.
func (f *FakeSource) SetStatus(s *Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

// SetErrors sets the errors returned by each method; nil clears.
func (f *FakeSource) SetErrors(lastSeen, sensors, status error) {
	f.mu.Lock()
	f.lastSeenErr, f.sensorsErr, f.statusErr = lastSeen, sensors, status
	f.mu.Unlock()
}

// LastSeen implements Source.
func (f *FakeSource) LastSeen(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastSeenErr != nil {
		return 0, f.lastSeenErr
	}
	return f.lastSeen, nil
}

// Sensors implements Source.
func (f *FakeSource) Sensors(_ context.Context) (*SensorReading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sensorCalls++
	if f.sensorsErr != nil {
		return nil, f.sensorsErr
	}
	if f.reading == nil {
		return nil, nil
	}
	r := *f.reading
	return &r, nil
}

// Status implements Source.
func (f *FakeSource) Status(_ context.Context) (*Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status == nil {
		return nil, nil
	}
	s := *f.status
	return &s, nil
}

// SensorCalls returns how many times Sensors was called.
func (f *FakeSource) SensorCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sensorCalls
}

// StatusCalls returns how many times Status was called.
func (f *FakeSource) StatusCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

// FakeDispatcher records dispatched commands.
type FakeDispatcher struct {
	mu       sync.Mutex
	commands []Command

	// Ack is returned by Dispatch when Err is nil.
	Ack Ack
	// Err, if set, is returned by Dispatch.
	Err error
}

// NewFakeDispatcher creates a FakeDispatcher that acknowledges every command.
func NewFakeDispatcher() *FakeDispatcher {
	return &FakeDispatcher{Ack: Ack{Success: true, Message: "OK"}}
}

// Dispatch implements Dispatcher.
func (f *FakeDispatcher) Dispatch(_ context.Context, cmd Command) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	if f.Err != nil {
		return Ack{}, f.Err
	}
	return f.Ack, nil
}

// Commands returns a copy of everything dispatched so far.
func (f *FakeDispatcher) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.commands))
	copy(out, f.commands)
	return out
}
