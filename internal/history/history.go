// Package history records presence transitions and displayed readings.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
)

// Entry is one recorded presence transition.
type Entry struct {
	At             time.Time       `json:"at"`
	From           presence.Status `json:"from"`
	To             presence.Status `json:"to"`
	LastSeenMs     int64           `json:"lastSeen"`
	SecondsOffline int64           `json:"secondsOffline"`
}

// EntryFrom converts a transition.
func EntryFrom(t presence.Transition) Entry {
	return Entry{
		At:             t.At,
		From:           t.From,
		To:             t.To,
		LastSeenMs:     t.Info.LastSeenMs,
		SecondsOffline: t.Info.SecondsOffline,
	}
}

// Recorder persists history.
type Recorder interface {
	RecordTransition(ctx context.Context, e Entry) error
	RecordReading(ctx context.Context, r device.SensorReading, at time.Time) error
	// RecentTransitions returns up to limit entries, newest first.
	RecentTransitions(ctx context.Context, limit int) ([]Entry, error)
}

// Memory keeps the most recent transitions in process. Readings are not kept.
type Memory struct {
	mu      sync.Mutex
	max     int
	entries []Entry
	reads   int
}

// NewMemory creates a Memory holding at most max transitions.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 100
	}
	return &Memory{max: max}
}

// RecordTransition implements Recorder.
func (m *Memory) RecordTransition(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if len(m.entries) > m.max {
		m.entries = m.entries[len(m.entries)-m.max:]
	}
	return nil
}

// RecordReading implements Recorder. Only the count is kept.
func (m *Memory) RecordReading(_ context.Context, _ device.SensorReading, _ time.Time) error {
	m.mu.Lock()
	m.reads++
	m.mu.Unlock()
	return nil
}

// Readings returns how many readings were recorded.
func (m *Memory) Readings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// RecentTransitions implements Recorder.
func (m *Memory) RecentTransitions(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}
