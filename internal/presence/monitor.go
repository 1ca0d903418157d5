package presence

import "time"

// Monitor tracks the presence state machine across evaluations:
//
//	unknown -> {online, offline}   first successful read
//	online <-> offline             threshold crossing
//	any -> error                   presence check failed
//	error -> {online, offline}     next successful read
//
// There is no terminal state. Not safe for concurrent use; the caller
// serializes Observe.
type Monitor struct {
	current Status
	since   time.Time
}

// NewMonitor creates a Monitor in the unknown state.
func NewMonitor(start time.Time) *Monitor {
	return &Monitor{current: StatusUnknown, since: start}
}

// Observe records a new evaluation and returns the transition it caused, or
// nil if the status did not change.
func (m *Monitor) Observe(info ConnectionInfo, now time.Time) *Transition {
	if info.Status == "" || info.Status == m.current {
		return nil
	}
	t := &Transition{
		From: m.current,
		To:   info.Status,
		At:   now,
		Info: info,
	}
	m.current = info.Status
	m.since = now
	return t
}

// Current returns the current status and when it was entered.
func (m *Monitor) Current() (Status, time.Time) {
	return m.current, m.since
}
