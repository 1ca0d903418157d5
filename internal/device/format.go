package device

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SignalStrength buckets a Wi-Fi RSSI in dBm.
func SignalStrength(rssi int) string {
	switch {
	case rssi >= -50:
		return "Excellent"
	case rssi >= -60:
		return "Good"
	case rssi >= -70:
		return "Fair"
	default:
		return "Poor"
	}
}

// FormatUptime renders milliseconds of uptime as "1h 2m 3s", dropping
// leading zero units.
func FormatUptime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := ms / 1000
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// ParseHeartbeat accepts either a bare epoch-ms integer or an object with a
// "timestamp" field.
func ParseHeartbeat(payload []byte) (int64, error) {
	s := strings.TrimSpace(string(payload))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	var obj struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return 0, fmt.Errorf("parse heartbeat: %w", err)
	}
	return obj.Timestamp, nil
}
