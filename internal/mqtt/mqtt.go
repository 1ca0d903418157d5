// Package mqtt carries the board's telemetry and commands over an MQTT
// broker and publishes the dashboard's own presence and lifecycle events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/home-dashboard/internal/presence"
)

// DefaultTopicBase is the topic prefix used when none is configured.
const DefaultTopicBase = "smarthome/esp32"

// Topics derives every topic from one base.
type Topics struct {
	Base string
}

// Heartbeat is where the board publishes its liveness timestamp.
func (t Topics) Heartbeat() string { return t.Base + "/heartbeat" }

// Sensors is where the board publishes sensor samples.
func (t Topics) Sensors() string { return t.Base + "/sensors" }

// Status is where the board publishes its actuator/system status.
func (t Topics) Status() string { return t.Base + "/status" }

// Control is the command topic for one actuator kind.
func (t Topics) Control(kind string) string { return t.Base + "/control/" + kind }

// Presence carries the dashboard's presence transitions (retained).
func (t Topics) Presence() string { return t.Base + "/dashboard/presence" }

// System carries the dashboard's lifecycle events (retained, also the LWT).
func (t Topics) System() string { return t.Base + "/dashboard/system" }

// Publisher publishes dashboard events to MQTT.
type Publisher interface {
	// PublishPresence sends a presence transition.
	// Returns error if publishing fails (should not crash the process).
	PublishPresence(event PresenceEvent) error

	// PublishSystem sends a lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// PresenceEvent is a presence transition as published.
type PresenceEvent struct {
	Timestamp  time.Time
	From       presence.Status
	To         presence.Status
	Connection presence.ConnectionInfo
}

// PresenceEventFrom converts a presence.Transition.
func PresenceEventFrom(t presence.Transition) PresenceEvent {
	return PresenceEvent{Timestamp: t.At, From: t.From, To: t.To, Connection: t.Info}
}

// PresencePayload is the JSON body of a presence event.
type PresencePayload struct {
	Presence PresencePayloadInner `json:"presence"`
}

// PresencePayloadInner contains the presence event details.
type PresencePayloadInner struct {
	Timestamp  string                  `json:"timestamp"`
	From       presence.Status         `json:"from"`
	To         presence.Status         `json:"to"`
	Connection presence.ConnectionInfo `json:"connection"`
}

// FormatPresencePayload creates the JSON payload for a presence event.
func FormatPresencePayload(event PresenceEvent) ([]byte, error) {
	return json.Marshal(PresencePayload{
		Presence: PresencePayloadInner{
			Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
			From:       event.From,
			To:         event.To,
			Connection: event.Connection,
		},
	})
}

// SystemEvent is a dashboard lifecycle event (STARTUP, SHUTDOWN, RECONNECTED).
type SystemEvent struct {
	Timestamp time.Time
	Event     string
	Reason    string // shutdown only, e.g. "SIGTERM"
	Retained  bool
}

// SystemPayload is the JSON body of a system event.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
