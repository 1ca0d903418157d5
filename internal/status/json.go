package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
)

// SensorsWithConnection is the /api/sensors body: the reading plus the
// presence it was reconciled under.
type SensorsWithConnection struct {
	device.SensorReading
	ConnectionStatus presence.ConnectionInfo `json:"connectionStatus"`
}

// StatusWithConnection is the /api/status body.
type StatusWithConnection struct {
	device.Status
	SignalStrength   string                  `json:"signalStrength"`
	UptimeFormatted  string                  `json:"uptimeFormatted"`
	ConnectionStatus presence.ConnectionInfo `json:"connectionStatus"`
}

// DashboardJSON is the full snapshot served at /index.json and over /ws.
type DashboardJSON struct {
	Connection    presence.ConnectionInfo `json:"connection"`
	Sensors       *device.SensorReading   `json:"sensors,omitempty"`
	Device        *StatusWithConnection   `json:"device,omitempty"`
	Weather       WeatherJSON             `json:"weather"`
	Banner        string                  `json:"banner,omitempty"`
	Messages      []string                `json:"messages"`
	Warnings      []string                `json:"warnings"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	StartTime     string                  `json:"start_time"`
	Timestamp     string                  `json:"timestamp"`
	LastUpdate    string                  `json:"last_update,omitempty"`
	MQTT          MQTTStatus              `json:"mqtt"`
	Config        ConfigJSON              `json:"config"`
}

// WeatherJSON is the JSON representation of the fallback cache.
type WeatherJSON struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	FetchedAt   string  `json:"fetched_at,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// ConfigJSON is the JSON representation of service config.
type ConfigJSON struct {
	DeviceAddr  string `json:"device_addr"`
	Source      string `json:"source"`
	Channel     string `json:"channel"`
	PollMs      int64  `json:"poll_ms"`
	ThresholdMs int64  `json:"threshold_ms"`
	CacheTTLMs  int64  `json:"cache_ttl_ms"`
	HTTPAddr    string `json:"http_addr"`
}

// Sensors builds the /api/sensors body, or nil before the first reading.
func Sensors(snap Snapshot) *SensorsWithConnection {
	if !snap.HasReading {
		return nil
	}
	return &SensorsWithConnection{SensorReading: snap.Reading, ConnectionStatus: snap.Connection}
}

// DeviceStatus builds the /api/status body, or nil before the first status.
func DeviceStatus(snap Snapshot) *StatusWithConnection {
	if snap.Device == nil {
		return nil
	}
	return &StatusWithConnection{
		Status:           *snap.Device,
		SignalStrength:   device.SignalStrength(snap.Device.Network.Signal),
		UptimeFormatted:  device.FormatUptime(snap.Device.System.UptimeMs),
		ConnectionStatus: snap.Connection,
	}
}

// Build converts a snapshot to its JSON form.
func Build(snap Snapshot) DashboardJSON {
	loc := snap.Location
	if loc == nil {
		loc = time.Local
	}

	out := DashboardJSON{
		Connection:    snap.Connection,
		Device:        DeviceStatus(snap),
		Banner:        snap.Banner,
		Messages:      make([]string, 0, len(snap.Messages)),
		Warnings:      snap.Warnings(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.BrokerConnected, Broker: snap.Config.Broker},
		Weather: WeatherJSON{
			City:        snap.Config.City,
			Temperature: snap.Weather.Temperature,
			Humidity:    snap.Weather.Humidity,
			Error:       snap.Weather.Error,
		},
		Config: ConfigJSON{
			DeviceAddr:  snap.Config.DeviceAddr,
			Source:      snap.Config.Source,
			Channel:     snap.Config.Channel,
			PollMs:      snap.Config.PollMs,
			ThresholdMs: snap.Config.ThresholdMs,
			CacheTTLMs:  snap.Config.CacheTTLMs,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	if snap.HasReading {
		r := snap.Reading
		out.Sensors = &r
	}
	if !snap.Weather.FetchedAt.IsZero() {
		out.Weather.FetchedAt = snap.Weather.FetchedAt.UTC().Format(time.RFC3339)
	}
	if !snap.LastUpdate.IsZero() {
		out.LastUpdate = snap.LastUpdate.UTC().Format(time.RFC3339)
	}
	for _, m := range snap.Messages {
		out.Messages = append(out.Messages, m.Format(loc))
	}
	return out
}

// FormatJSON returns the indented JSON snapshot for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(Build(snap), "", "  ")
	return data
}
