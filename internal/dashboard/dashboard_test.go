package dashboard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/gpio"
	"github.com/sweeney/home-dashboard/internal/history"
	"github.com/sweeney/home-dashboard/internal/logging"
	"github.com/sweeney/home-dashboard/internal/metrics"
	"github.com/sweeney/home-dashboard/internal/mqtt"
	"github.com/sweeney/home-dashboard/internal/presence"
	"github.com/sweeney/home-dashboard/internal/scheduler"
	"github.com/sweeney/home-dashboard/internal/status"
	"github.com/sweeney/home-dashboard/internal/weather"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc       *Service
	clock     *clock
	source    *device.FakeSource
	disp      *device.FakeDispatcher
	fetcher   *weather.FakeFetcher
	tracker   *status.Tracker
	publisher *mqtt.FakePublisher
	history   *history.Memory
	indicator *gpio.FakeIndicator
}

func newHarness(t *testing.T, opts ...func(*Deps)) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	h := &harness{
		clock:     clk,
		source:    device.NewFakeSource(),
		disp:      device.NewFakeDispatcher(),
		fetcher:   weather.NewFakeFetcher(weather.Weather{Temperature: 31.2, Humidity: 70.1}),
		publisher: mqtt.NewFakePublisher(),
		history:   history.NewMemory(10),
		indicator: gpio.NewFakeIndicator(),
	}
	h.tracker = status.NewTracker(clk.Now(), time.UTC, status.Config{})
	h.tracker.SetClock(clk.Now)
	cache := weather.NewCache(h.fetcher, weather.Location{City: "Jakarta"}, weather.DefaultTTL, weather.WithClock(clk.Now))

	d := Deps{
		Source:     h.source,
		Dispatcher: h.disp,
		Weather:    cache,
		Evaluator:  presence.NewEvaluator(30*time.Second, time.UTC),
		Tracker:    h.tracker,
		Publisher:  h.publisher,
		History:    h.history,
		Indicator:  h.indicator,
		Metrics:    metrics.New(nil),
		Logger:     logging.Discard(),
		Now:        clk.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	h.svc = New(d)
	return h
}

// stallingSource blocks the selected reads until their context ends.
type stallingSource struct {
	*device.FakeSource
	stallLastSeen bool
	stallSensors  bool
}

func (s *stallingSource) LastSeen(ctx context.Context) (int64, error) {
	if s.stallLastSeen {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.FakeSource.LastSeen(ctx)
}

func (s *stallingSource) Sensors(ctx context.Context) (*device.SensorReading, error) {
	if s.stallSensors {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.FakeSource.Sensors(ctx)
}

func goodReading(ts int64) *device.SensorReading {
	return &device.SensorReading{
		Temperature: 24.5,
		Humidity:    55,
		LightLevel:  812,
		Distance:    42.3,
		JoyX:        2048,
		JoyY:        2048,
		Timestamp:   ts,
	}
}

func TestFullTickOnline(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	h.source.SetLastSeen(now.Add(-5 * time.Second).UnixMilli())
	h.source.SetReading(goodReading(now.Unix()))
	st := &device.Status{}
	st.Servo.Open = true
	h.source.SetStatus(st)

	if err := h.svc.PollOnce(context.Background(), scheduler.ModeFull); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	info := h.svc.ConnectionInfo()
	if info.Status != presence.StatusOnline {
		t.Fatalf("got status %q, want online", info.Status)
	}
	if !h.svc.Online() {
		t.Error("Online() should be true after an online tick")
	}

	sensors := h.svc.Sensors()
	if sensors == nil {
		t.Fatal("expected sensors")
	}
	if sensors.FromFallback || sensors.Temperature != 24.5 {
		t.Errorf("expected device reading, got %+v", sensors.SensorReading)
	}
	if sensors.ConnectionStatus.Status != presence.StatusOnline {
		t.Errorf("connection not attached: %+v", sensors.ConnectionStatus)
	}

	if s := h.svc.Status(); s == nil || !s.Servo.Open {
		t.Errorf("expected device status with open servo, got %+v", s)
	}
	if h.fetcher.Calls() != 0 {
		t.Errorf("valid reading should not touch weather, got %d fetches", h.fetcher.Calls())
	}
	if !h.indicator.Lit() {
		t.Error("indicator should be lit while online")
	}
	events := h.publisher.Presence()
	if len(events) != 1 || events[0].From != presence.StatusUnknown || events[0].To != presence.StatusOnline {
		t.Errorf("expected unknown->online event, got %+v", events)
	}
}

func TestOfflineUsesFallbackAndNeverReadsDevice(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	h.source.SetLastSeen(now.Add(-45 * time.Second).UnixMilli())
	h.source.SetReading(goodReading(now.Unix()))

	if err := h.svc.PollOnce(context.Background(), scheduler.ModeFull); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	if h.source.SensorCalls() != 0 || h.source.StatusCalls() != 0 {
		t.Errorf("offline device was read: sensors=%d status=%d", h.source.SensorCalls(), h.source.StatusCalls())
	}
	sensors := h.svc.Sensors()
	if sensors == nil || !sensors.FromFallback || sensors.Temperature != 31.2 || sensors.Humidity != 70.1 {
		t.Errorf("expected fallback reading, got %+v", sensors)
	}
	if sensors.ConnectionStatus.SecondsOffline != 45 {
		t.Errorf("got seconds offline %d, want 45", sensors.ConnectionStatus.SecondsOffline)
	}
	if h.history.Readings() != 1 {
		t.Errorf("fallback reading should be recorded, got %d", h.history.Readings())
	}

	snap := h.svc.Snapshot()
	if snap.Banner != "Device offline for 45s" {
		t.Errorf("got banner %q", snap.Banner)
	}
	if snap.Weather.Temperature != 31.2 || snap.Weather.FetchedAt.IsZero() {
		t.Errorf("weather info not populated: %+v", snap.Weather)
	}
}

func TestPresenceCheckFailure(t *testing.T) {
	h := newHarness(t)
	h.source.SetErrors(errors.New("connection refused"), nil, nil)

	err := h.svc.PollOnce(context.Background(), scheduler.ModePresence)
	if err == nil {
		t.Fatal("expected error")
	}
	info := h.svc.ConnectionInfo()
	if info.Status != presence.StatusError {
		t.Errorf("got status %q, want error", info.Status)
	}
	if h.svc.Snapshot().Banner != "Device connection check failed" {
		t.Errorf("got banner %q", h.svc.Snapshot().Banner)
	}
	if h.indicator.Lit() {
		t.Error("indicator should be off")
	}
}

func TestDeviceErrorAndWeatherErrorStillApplies(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	h.source.SetLastSeen(now.UnixMilli())
	h.source.SetErrors(nil, errors.New("timeout"), errors.New("timeout"))
	h.fetcher.SetErr(errors.New("quota exceeded"))

	err := h.svc.PollOnce(context.Background(), scheduler.ModeFull)
	if err == nil {
		t.Fatal("expected joined error")
	}
	sensors := h.svc.Sensors()
	if sensors == nil || !sensors.FromFallback {
		t.Fatalf("expected fallback reading, got %+v", sensors)
	}
	if sensors.Temperature != weather.DefaultTemperature || sensors.Humidity != weather.DefaultHumidity {
		t.Errorf("expected default values, got %v/%v", sensors.Temperature, sensors.Humidity)
	}
	snap := h.svc.Snapshot()
	if !strings.Contains(snap.Weather.Error, "quota exceeded") {
		t.Errorf("weather error not recorded: %q", snap.Weather.Error)
	}
	if snap.Banner == "" {
		t.Error("expected a banner")
	}
}

// Device last seen at T: online at T+10s, offline at T+45s, with one
// transition each and commands refused once offline.
func TestOnlineThenOfflineScenario(t *testing.T) {
	h := newHarness(t)
	seen := h.clock.Now()
	h.source.SetLastSeen(seen.UnixMilli())
	h.source.SetReading(goodReading(seen.Unix()))

	h.clock.Advance(10 * time.Second)
	if err := h.svc.PollOnce(context.Background(), scheduler.ModeFull); err != nil {
		t.Fatalf("tick at +10s: %v", err)
	}
	if got := h.svc.ConnectionInfo().Status; got != presence.StatusOnline {
		t.Fatalf("at +10s got %q, want online", got)
	}

	h.clock.Advance(35 * time.Second)
	if err := h.svc.PollOnce(context.Background(), scheduler.ModeFull); err != nil {
		t.Fatalf("tick at +45s: %v", err)
	}
	info := h.svc.ConnectionInfo()
	if info.Status != presence.StatusOffline || info.SecondsOffline != 45 {
		t.Fatalf("at +45s got %+v", info)
	}

	res := h.svc.ControlLED(context.Background(), true)
	if res.Success {
		t.Error("command should be refused while offline")
	}
	if !strings.Contains(res.Message, "45s") {
		t.Errorf("message should name the offline seconds: %q", res.Message)
	}
	if len(h.disp.Commands()) != 0 {
		t.Error("no command should reach the transport")
	}

	entries, err := h.svc.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 2 || entries[0].To != presence.StatusOffline || entries[1].To != presence.StatusOnline {
		t.Errorf("unexpected history: %+v", entries)
	}
	if got := h.indicator.States(); len(got) != 2 || !got[0] || got[1] {
		t.Errorf("got indicator states %v, want [true false]", got)
	}
}

func TestControlOnlineDispatchesAndLogsMessage(t *testing.T) {
	h := newHarness(t)
	h.source.SetLastSeen(h.clock.Now().UnixMilli())
	h.disp.Ack = device.Ack{Success: true}
	if err := h.svc.PollOnce(context.Background(), scheduler.ModePresence); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	res := h.svc.ControlRGB(context.Background(), "RAINBOW")
	if !res.Success || res.Message != "RGB mode set to RAINBOW" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.CommandID == "" {
		t.Error("expected a command ID")
	}
	cmds := h.disp.Commands()
	if len(cmds) != 1 || cmds[0].Kind != device.KindRGB || cmds[0].Mode != "RAINBOW" {
		t.Errorf("unexpected commands %+v", cmds)
	}

	msgs := h.svc.Snapshot().Messages
	if len(msgs) != 1 || msgs[0].Text != "RGB mode set to RAINBOW" || msgs[0].Error {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestControlFailureRaisesBanner(t *testing.T) {
	h := newHarness(t)
	h.source.SetLastSeen(h.clock.Now().UnixMilli())
	h.disp.Err = errors.New("connection reset")
	h.svc.PollOnce(context.Background(), scheduler.ModePresence)

	res := h.svc.ControlLED(context.Background(), false)
	if res.Success || res.Message != "LED control failed" {
		t.Errorf("unexpected result %+v", res)
	}
	snap := h.svc.Snapshot()
	if snap.Banner != "LED control failed" {
		t.Errorf("got banner %q", snap.Banner)
	}
}

func TestToggleServo(t *testing.T) {
	h := newHarness(t)
	now := h.clock.Now()
	h.source.SetLastSeen(now.UnixMilli())
	h.source.SetReading(goodReading(now.Unix()))

	st := &device.Status{}
	st.Servo.Open = true
	h.source.SetStatus(st)
	h.svc.PollOnce(context.Background(), scheduler.ModeFull)
	h.svc.ToggleServo(context.Background())

	st.Servo.Open = false
	h.source.SetStatus(st)
	h.svc.PollOnce(context.Background(), scheduler.ModeFull)
	h.svc.ToggleServo(context.Background())

	cmds := h.disp.Commands()
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2", len(cmds))
	}
	if cmds[0].Angle != 90 || cmds[1].Angle != 0 {
		t.Errorf("got angles %d, %d; want 90, 0", cmds[0].Angle, cmds[1].Angle)
	}
}

func TestRefreshWeatherData(t *testing.T) {
	h := newHarness(t)
	h.source.SetLastSeen(h.clock.Now().Add(-time.Minute).UnixMilli())
	h.svc.PollOnce(context.Background(), scheduler.ModeFull)
	if h.fetcher.Calls() != 1 {
		t.Fatalf("got %d fetches, want 1", h.fetcher.Calls())
	}

	if err := h.svc.RefreshWeatherData(context.Background()); err != nil {
		t.Fatalf("RefreshWeatherData: %v", err)
	}
	if h.fetcher.Calls() != 2 {
		t.Errorf("refresh should refetch within TTL, got %d fetches", h.fetcher.Calls())
	}
	msgs := h.svc.Snapshot().Messages
	if len(msgs) == 0 || msgs[0].Text != "Weather data refreshed" {
		t.Errorf("unexpected messages %+v", msgs)
	}

	h.fetcher.SetErr(errors.New("boom"))
	if err := h.svc.RefreshWeatherData(context.Background()); err == nil {
		t.Error("expected error")
	}
	msgs = h.svc.Snapshot().Messages
	if msgs[0].Text != "Failed to refresh weather data" || !msgs[0].Error {
		t.Errorf("unexpected newest message %+v", msgs[0])
	}
}

func TestRunPollsUntilCancelled(t *testing.T) {
	h := newHarness(t)
	h.source.SetLastSeen(h.clock.Now().UnixMilli())

	ctx, cancel := context.WithCancel(context.Background())
	changed := h.tracker.Changed()
	done := make(chan struct{})
	go func() {
		h.svc.Run(ctx)
		close(done)
	}()

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick was never applied")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPresenceCheckTimeoutIsError(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Source = &stallingSource{FakeSource: d.Source.(*device.FakeSource), stallLastSeen: true}
		d.PresenceTimeout = 50 * time.Millisecond
	})

	start := time.Now()
	err := h.svc.PollOnce(context.Background(), scheduler.ModeFull)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("tick took %v, presence timeout not applied", elapsed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got err %v, want deadline exceeded", err)
	}
	if got := h.svc.ConnectionInfo().Status; got != presence.StatusError {
		t.Errorf("got status %q, want error", got)
	}
	sensors := h.svc.Sensors()
	if sensors == nil || !sensors.FromFallback || sensors.Temperature != 31.2 {
		t.Errorf("expected fallback reading, got %+v", sensors)
	}
	if h.source.SensorCalls() != 0 {
		t.Error("sensors read although presence check failed")
	}
}

func TestStalledSensorReadFallsBack(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Source = &stallingSource{FakeSource: d.Source.(*device.FakeSource), stallSensors: true}
		d.FetchTimeout = 50 * time.Millisecond
	})
	h.source.SetLastSeen(h.clock.Now().UnixMilli())
	h.source.SetStatus(&device.Status{})

	start := time.Now()
	if err := h.svc.PollOnce(context.Background(), scheduler.ModeFull); err != nil {
		t.Fatalf("device timeout should degrade, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("tick took %v, fetch timeout not applied", elapsed)
	}
	if got := h.svc.ConnectionInfo().Status; got != presence.StatusOnline {
		t.Errorf("got status %q, want online", got)
	}
	sensors := h.svc.Sensors()
	if sensors == nil || !sensors.FromFallback || sensors.Temperature != 31.2 || sensors.Humidity != 70.1 {
		t.Errorf("expected fallback-only reading, got %+v", sensors)
	}
	if sensors.LightLevel != 0 {
		t.Errorf("fallback-only reading should not carry device fields, got %+v", sensors.SensorReading)
	}
}

func TestDiscardedTickRecordsNoReading(t *testing.T) {
	h := newHarness(t)
	h.source.SetLastSeen(h.clock.Now().Add(-45 * time.Second).UnixMilli())

	res, _ := h.svc.Poll(context.Background(), scheduler.ModeFull)
	if res.Reading == nil || !res.Reading.FromFallback {
		t.Fatalf("expected fallback reading, got %+v", res.Reading)
	}
	if n := h.history.Readings(); n != 0 {
		t.Fatalf("poll alone recorded %d readings, want 0", n)
	}

	h.svc.Apply(res)
	if n := h.history.Readings(); n != 1 {
		t.Errorf("applied tick recorded %d readings, want 1", n)
	}
}

func TestControlRejudgesPresence(t *testing.T) {
	h := newHarness(t)
	h.source.SetLastSeen(h.clock.Now().Add(-10 * time.Second).UnixMilli())
	h.source.SetReading(goodReading(h.clock.Now().Unix()))
	if err := h.svc.PollOnce(context.Background(), scheduler.ModeFull); err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	// No tick runs while the board goes quiet past the threshold.
	h.clock.Advance(25 * time.Second)
	res := h.svc.ControlLED(context.Background(), true)
	if res.Success || res.Message != "Device offline for 35s, command not sent" {
		t.Errorf("unexpected result %+v", res)
	}
	if len(h.disp.Commands()) != 0 {
		t.Error("command reached the transport")
	}
}
