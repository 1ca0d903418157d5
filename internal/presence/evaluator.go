package presence

import (
	"math"
	"time"
)

// Evaluator classifies presence against a fixed online threshold.
type Evaluator struct {
	threshold time.Duration
	loc       *time.Location
}

// NewEvaluator creates an Evaluator. A non-positive threshold selects
// DefaultThreshold; a nil location formats last-seen times in time.Local.
func NewEvaluator(threshold time.Duration, loc *time.Location) Evaluator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if loc == nil {
		loc = time.Local
	}
	return Evaluator{threshold: threshold, loc: loc}
}

// Threshold returns the online threshold.
func (e Evaluator) Threshold() time.Duration {
	return e.threshold
}

// Evaluate classifies a last-seen epoch-ms timestamp (0 = never observed)
// relative to now.
func (e Evaluator) Evaluate(lastSeenMs int64, now time.Time) ConnectionInfo {
	if lastSeenMs <= 0 {
		return Unknown()
	}

	diff := now.UnixMilli() - lastSeenMs
	if diff < 0 {
		// Device clock ahead of ours; treat as just seen.
		diff = 0
	}

	info := ConnectionInfo{
		LastSeenMs:          lastSeenMs,
		TimeSinceLastSeenMs: float64(diff),
		LastSeenFormatted:   e.format(lastSeenMs),
	}
	if diff < e.threshold.Milliseconds() {
		info.IsOnline = true
		info.Status = StatusOnline
		return info
	}
	info.Status = StatusOffline
	info.SecondsOffline = diff / 1000
	return info
}

// Failed returns the classification for a presence check that could not be
// completed. It is not an offline verdict: the device may be fine.
func (e Evaluator) Failed() ConnectionInfo {
	return ConnectionInfo{
		Status:              StatusError,
		TimeSinceLastSeenMs: math.Inf(1),
		LastSeenFormatted:   NeverSeen,
	}
}

func (e Evaluator) format(ms int64) string {
	return time.UnixMilli(ms).In(e.loc).Format("15:04:05")
}

// LastSeen picks the timestamp presence is judged on: the heartbeat when the
// device has written one, else the last sensor sample (epoch seconds).
// Returns 0 if neither exists.
func LastSeen(heartbeatMs, sensorTimestampSec int64) int64 {
	if heartbeatMs > 0 {
		return heartbeatMs
	}
	if sensorTimestampSec > 0 {
		return sensorTimestampSec * 1000
	}
	return 0
}
