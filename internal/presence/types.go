// Package presence contains the pure logic that decides whether the controller
// board is currently reachable.
// This package has NO external dependencies (no HTTP, MQTT, Redis, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package presence

import (
	"encoding/json"
	"math"
	"time"
)

// Status is the presence classification of the device.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
	StatusError   Status = "error"
)

// DefaultThreshold is how recent the last-seen timestamp must be for the
// device to count as online.
const DefaultThreshold = 30 * time.Second

// NeverSeen is the formatted last-seen value when no timestamp exists.
const NeverSeen = "Never"

// ConnectionInfo is the result of one presence evaluation.
type ConnectionInfo struct {
	IsOnline bool
	// LastSeenMs is the epoch-ms timestamp last reported by the device (0 = never).
	LastSeenMs int64
	// TimeSinceLastSeenMs is +Inf when the device was never seen or the check failed.
	TimeSinceLastSeenMs float64
	Status              Status
	LastSeenFormatted   string
	SecondsOffline      int64
}

// Unknown returns the ConnectionInfo used before any presence check completed.
func Unknown() ConnectionInfo {
	return ConnectionInfo{
		Status:              StatusUnknown,
		TimeSinceLastSeenMs: math.Inf(1),
		LastSeenFormatted:   NeverSeen,
	}
}

// connectionJSON is the wire form. +Inf is not representable in JSON, so
// timeSinceLastSeenMs is encoded as null in that case.
type connectionJSON struct {
	IsOnline            bool     `json:"isOnline"`
	LastSeen            int64    `json:"lastSeen"`
	TimeSinceLastSeenMs *float64 `json:"timeSinceLastSeenMs"`
	Status              Status   `json:"status"`
	LastSeenFormatted   string   `json:"lastSeenFormatted"`
	SecondsOffline      int64    `json:"secondsOffline"`
}

// MarshalJSON implements json.Marshaler.
func (c ConnectionInfo) MarshalJSON() ([]byte, error) {
	w := connectionJSON{
		IsOnline:          c.IsOnline,
		LastSeen:          c.LastSeenMs,
		Status:            c.Status,
		LastSeenFormatted: c.LastSeenFormatted,
		SecondsOffline:    c.SecondsOffline,
	}
	if !math.IsInf(c.TimeSinceLastSeenMs, 0) && !math.IsNaN(c.TimeSinceLastSeenMs) {
		v := c.TimeSinceLastSeenMs
		w.TimeSinceLastSeenMs = &v
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. A null timeSinceLastSeenMs
// decodes to +Inf.
func (c *ConnectionInfo) UnmarshalJSON(data []byte) error {
	var w connectionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = ConnectionInfo{
		IsOnline:            w.IsOnline,
		LastSeenMs:          w.LastSeen,
		TimeSinceLastSeenMs: math.Inf(1),
		Status:              w.Status,
		LastSeenFormatted:   w.LastSeenFormatted,
		SecondsOffline:      w.SecondsOffline,
	}
	if w.TimeSinceLastSeenMs != nil {
		c.TimeSinceLastSeenMs = *w.TimeSinceLastSeenMs
	}
	return nil
}

// Transition is emitted when the classification changes.
type Transition struct {
	From Status
	To   Status
	At   time.Time
	Info ConnectionInfo
}
