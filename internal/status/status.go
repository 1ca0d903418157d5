// Package status provides a thread-safe snapshot of everything the dashboard
// shows. It is written by the poll loop and command handlers, and read by
// HTTP handlers and websocket clients.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
)

// BannerTTL is how long an error banner stays visible.
const BannerTTL = 5 * time.Second

// Warning thresholds for the displayed reading.
const (
	HotTemperature = 30.0
	MinHumidity    = 40.0
	MaxHumidity    = 70.0
)

// Config contains service configuration for display.
type Config struct {
	DeviceAddr  string
	Source      string
	Channel     string
	City        string
	PollMs      int64
	ThresholdMs int64
	CacheTTLMs  int64
	Broker      string
	HTTPAddr    string
}

// WeatherInfo describes the fallback cache as last observed.
type WeatherInfo struct {
	Temperature float64
	Humidity    float64
	FetchedAt   time.Time
	Error       string
}

// Snapshot is a point-in-time view of dashboard state.
// It is a value type; safe to use after the lock is released.
type Snapshot struct {
	Connection presence.ConnectionInfo
	Reading    device.SensorReading
	HasReading bool
	Device     *device.Status
	Weather    WeatherInfo
	Banner     string
	Messages   []Message
	LastUpdate time.Time

	BrokerConnected bool
	StartTime       time.Time
	Now             time.Time
	Location        *time.Location
	Config          Config
}

// Uptime returns the duration since the service started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Warnings returns human-readable alerts for the current reading.
func (s Snapshot) Warnings() []string {
	if !s.HasReading {
		return nil
	}
	var out []string
	if s.Reading.Temperature > HotTemperature {
		out = append(out, "High temperature")
	}
	if s.Reading.Humidity < MinHumidity || s.Reading.Humidity > MaxHumidity {
		out = append(out, "Humidity outside comfort range")
	}
	return out
}

// Update is one poll result.
type Update struct {
	Connection presence.ConnectionInfo
	// Reading and Device replace the previous values when non-nil.
	Reading *device.SensorReading
	Device  *device.Status
	Weather *WeatherInfo
	At      time.Time
}

// Tracker holds mutable dashboard state behind an RWMutex.
type Tracker struct {
	mu       sync.RWMutex
	snap     Snapshot
	bannerAt time.Time
	log      *messageLog
	changed  chan struct{}
	now      func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
// Timestamps shown to users are rendered in loc.
func NewTracker(startTime time.Time, loc *time.Location, cfg Config) *Tracker {
	if loc == nil {
		loc = time.Local
	}
	return &Tracker{
		snap: Snapshot{
			Connection: presence.Unknown(),
			StartTime:  startTime,
			Location:   loc,
			Config:     cfg,
		},
		log:     newMessageLog(MessageLogSize),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// SetClock replaces time.Now, for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// notify wakes everyone waiting on Changed. Caller holds t.mu.
func (t *Tracker) notify() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// Changed returns a channel closed on the next state change.
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changed
}

// Apply installs a poll result.
func (t *Tracker) Apply(u Update) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Connection = u.Connection
	if u.Reading != nil {
		t.snap.Reading = *u.Reading
		t.snap.HasReading = true
	}
	if u.Device != nil {
		d := *u.Device
		t.snap.Device = &d
	}
	if u.Weather != nil {
		t.snap.Weather = *u.Weather
	}
	t.snap.LastUpdate = u.At
	t.notify()
}

// SetBanner shows msg as the current error banner.
func (t *Tracker) SetBanner(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Banner = msg
	t.bannerAt = t.now()
	t.notify()
}

// AddMessage records a command or action outcome. Errors also raise the banner.
func (t *Tracker) AddMessage(text string, isError bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.log.push(Message{At: now, Text: text, Error: isError})
	if isError {
		t.snap.Banner = text
		t.bannerAt = now
	}
	t.notify()
}

// SetBrokerConnected records the MQTT connection state.
func (t *Tracker) SetBrokerConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.BrokerConnected == connected {
		return
	}
	t.snap.BrokerConnected = connected
	t.notify()
}

// Snapshot returns a point-in-time copy of the dashboard state.
// The Now field is set to the current time at the moment of the call, and a
// banner older than BannerTTL is omitted.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	bannerAt := t.bannerAt
	s.Messages = t.log.newestFirst()
	now := t.now()
	t.mu.RUnlock()

	if s.Device != nil {
		d := *s.Device
		s.Device = &d
	}
	if s.Banner != "" && now.Sub(bannerAt) >= BannerTTL {
		s.Banner = ""
	}
	s.Now = now
	return s
}
