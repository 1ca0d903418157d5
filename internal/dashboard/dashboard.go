// Package dashboard composes presence, reconciliation, the command gate and
// the poll loop into the service the web layer talks to.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/gate"
	"github.com/sweeney/home-dashboard/internal/gpio"
	"github.com/sweeney/home-dashboard/internal/history"
	"github.com/sweeney/home-dashboard/internal/metrics"
	"github.com/sweeney/home-dashboard/internal/mqtt"
	"github.com/sweeney/home-dashboard/internal/presence"
	"github.com/sweeney/home-dashboard/internal/reconcile"
	"github.com/sweeney/home-dashboard/internal/scheduler"
	"github.com/sweeney/home-dashboard/internal/status"
	"github.com/sweeney/home-dashboard/internal/weather"
)

// Default bounds on device I/O and on side effects run from Apply.
const (
	DefaultPresenceTimeout = 3 * time.Second
	DefaultFetchTimeout    = 5 * time.Second
	sideEffectTimeout      = 2 * time.Second
)

// Deps are the collaborators a Service is built from. Source, Dispatcher,
// Weather and Tracker are required; the rest are optional.
type Deps struct {
	Source     device.Source
	Dispatcher device.Dispatcher
	Weather    *weather.Cache
	Evaluator  presence.Evaluator
	Tracker    *status.Tracker

	Publisher mqtt.Publisher
	History   history.Recorder
	Indicator gpio.Indicator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	PollInterval    time.Duration
	PresenceTimeout time.Duration
	FetchTimeout    time.Duration

	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Result is what one poll tick produced.
type Result struct {
	Connection presence.ConnectionInfo
	Reading    *device.SensorReading
	Device     *device.Status
	Weather    *status.WeatherInfo
	// Problem is a user-facing description of a non-fatal failure.
	Problem string
	At      time.Time
}

// Service is the dashboard's view-facing API.
type Service struct {
	source    device.Source
	weather   *weather.Cache
	evaluator presence.Evaluator
	tracker   *status.Tracker
	gate      *gate.Gate
	publisher mqtt.Publisher
	history   history.Recorder
	indicator gpio.Indicator
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	presenceTimeout time.Duration
	fetchTimeout    time.Duration
	poller          *scheduler.Poller[Result]

	online  atomic.Bool
	applyMu sync.Mutex
	monitor *presence.Monitor
}

// New builds a Service.
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.History == nil {
		d.History = history.NewMemory(0)
	}
	if d.Indicator == nil {
		d.Indicator = gpio.Nop{}
	}
	if d.PresenceTimeout <= 0 {
		d.PresenceTimeout = DefaultPresenceTimeout
	}
	if d.FetchTimeout <= 0 {
		d.FetchTimeout = DefaultFetchTimeout
	}

	s := &Service{
		source:          d.Source,
		weather:         d.Weather,
		evaluator:       d.Evaluator,
		tracker:         d.Tracker,
		publisher:       d.Publisher,
		history:         d.History,
		indicator:       d.Indicator,
		metrics:         d.Metrics,
		logger:          d.Logger,
		now:             d.Now,
		presenceTimeout: d.PresenceTimeout,
		fetchTimeout:    d.FetchTimeout,
		monitor:         presence.NewMonitor(d.Now()),
	}

	gateOpts := []gate.Option{}
	if d.Metrics != nil {
		gateOpts = append(gateOpts, gate.WithObserver(d.Metrics))
	}
	s.gate = gate.New(d.Dispatcher, d.Logger, gateOpts...)

	pollOpts := []scheduler.Option{scheduler.WithLogger(d.Logger)}
	if d.Metrics != nil {
		pollOpts = append(pollOpts, scheduler.WithObserver(d.Metrics))
	}
	// A tick may spend its fetch budget on the board and again on the
	// weather fallback.
	tickTimeout := d.PresenceTimeout + 2*d.FetchTimeout
	s.poller = scheduler.New[Result](s, d.PollInterval, tickTimeout, pollOpts...)
	return s
}

// Run polls until ctx is done, then waits for in-flight ticks to finish.
func (s *Service) Run(ctx context.Context) {
	s.poller.Run(ctx)
	s.poller.Wait()
}

// Refresh requests an immediate full refresh.
func (s *Service) Refresh() {
	s.poller.Trigger()
}

// Online implements scheduler.Target.
func (s *Service) Online() bool {
	return s.online.Load()
}

// Poll implements scheduler.Target. It always returns a usable Result; the
// error describes what degraded.
func (s *Service) Poll(ctx context.Context, mode scheduler.Mode) (Result, error) {
	info, presErr := s.checkPresence(ctx)
	res := Result{Connection: info, At: s.now()}

	if mode != scheduler.ModeFull {
		if presErr != nil {
			res.Problem = "Device connection check failed"
		}
		return res, presErr
	}

	tap := &weatherTap{cache: s.weather}
	rec := reconcile.New(tap).WithClock(s.now)
	src := boundedSource{Source: s.source, timeout: s.fetchTimeout}

	var (
		reading   device.SensorReading
		readErr   error
		devStatus *device.Status
		statusErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		reading, readErr = rec.Fetch(ctx, src, info)
		return nil
	})
	if info.IsOnline {
		g.Go(func() error {
			devStatus, statusErr = src.Status(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res.Reading = &reading
	res.Device = devStatus
	res.Weather = s.weatherInfo(tap.err)

	var errs []error
	if presErr != nil {
		errs = append(errs, presErr)
		res.Problem = "Device connection check failed"
	}
	if readErr != nil {
		errs = append(errs, readErr)
		res.Problem = "Weather data unavailable, showing defaults"
	}
	if statusErr != nil {
		errs = append(errs, fmt.Errorf("read status: %w", statusErr))
		if res.Problem == "" {
			res.Problem = "Failed to fetch device status"
		}
	}
	return res, errors.Join(errs...)
}

func (s *Service) checkPresence(ctx context.Context) (presence.ConnectionInfo, error) {
	pctx, cancel := context.WithTimeout(ctx, s.presenceTimeout)
	defer cancel()

	lastSeen, err := s.source.LastSeen(pctx)
	if err != nil {
		return s.evaluator.Failed(), fmt.Errorf("check presence: %w", err)
	}
	return s.evaluator.Evaluate(lastSeen, s.now()), nil
}

func (s *Service) weatherInfo(fetchErr error) *status.WeatherInfo {
	entry, ok := s.weather.Snapshot()
	info := &status.WeatherInfo{}
	if ok {
		info.Temperature = entry.Temperature
		info.Humidity = entry.Humidity
		info.FetchedAt = entry.FetchedAt
	} else {
		d := weather.Default()
		info.Temperature = d.Temperature
		info.Humidity = d.Humidity
	}
	if fetchErr != nil {
		info.Error = fetchErr.Error()
	}
	return info
}

// Apply implements scheduler.Target.
func (s *Service) Apply(res Result) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	info := res.Connection
	s.online.Store(info.IsOnline)
	s.metrics.SetPresence(info)

	s.tracker.Apply(status.Update{
		Connection: info,
		Reading:    res.Reading,
		Device:     res.Device,
		Weather:    res.Weather,
		At:         res.At,
	})

	if res.Reading != nil && res.Reading.FromFallback {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		if err := s.history.RecordReading(ctx, *res.Reading, res.At); err != nil {
			s.logger.Warn("record reading failed", "error", err)
		}
		cancel()
	}

	switch {
	case info.Status == presence.StatusOffline:
		s.tracker.SetBanner(fmt.Sprintf("Device offline for %ds", info.SecondsOffline))
	case res.Problem != "":
		s.tracker.SetBanner(res.Problem)
	}

	if t := s.monitor.Observe(info, res.At); t != nil {
		s.transitioned(*t)
	}
}

func (s *Service) transitioned(t presence.Transition) {
	s.logger.Info("presence changed",
		"from", string(t.From),
		"to", string(t.To),
		"last_seen", t.Info.LastSeenFormatted,
		"seconds_offline", t.Info.SecondsOffline,
	)
	s.metrics.Transition(t.To)

	if err := s.indicator.Set(t.To == presence.StatusOnline); err != nil {
		s.logger.Warn("indicator update failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.history.RecordTransition(ctx, history.EntryFrom(t)); err != nil {
		s.logger.Warn("record transition failed", "error", err)
	}

	if s.publisher != nil {
		if err := s.publisher.PublishPresence(mqtt.PresenceEventFrom(t)); err != nil {
			s.logger.Warn("publish presence failed", "error", err)
		}
	}

	// Coming back online: fetch data now instead of on the next interval.
	if t.To == presence.StatusOnline && t.From != presence.StatusUnknown {
		s.poller.Trigger()
	}
}

// PollOnce runs one tick synchronously and applies it.
func (s *Service) PollOnce(ctx context.Context, mode scheduler.Mode) error {
	res, err := s.Poll(ctx, mode)
	s.Apply(res)
	return err
}

// currentPresence re-judges the last applied last-seen time against now, so
// a board that crossed the threshold since the last tick is not commanded.
// Error and unknown verdicts carry no usable timestamp and are kept.
func (s *Service) currentPresence() presence.ConnectionInfo {
	info := s.ConnectionInfo()
	if info.Status != presence.StatusOnline && info.Status != presence.StatusOffline {
		return info
	}
	return s.evaluator.Evaluate(info.LastSeenMs, s.now())
}

// ConnectionInfo returns the presence as last applied.
func (s *Service) ConnectionInfo() presence.ConnectionInfo {
	return s.tracker.Snapshot().Connection
}

// Snapshot returns the full dashboard state.
func (s *Service) Snapshot() status.Snapshot {
	return s.tracker.Snapshot()
}

// Changed returns a channel closed on the next state change.
func (s *Service) Changed() <-chan struct{} {
	return s.tracker.Changed()
}

// Sensors returns the displayed reading with its connection info attached,
// or nil if no tick has produced one yet.
func (s *Service) Sensors() *status.SensorsWithConnection {
	return status.Sensors(s.tracker.Snapshot())
}

// Status returns the last device status with its connection info attached,
// or nil if none has been read.
func (s *Service) Status() *status.StatusWithConnection {
	return status.DeviceStatus(s.tracker.Snapshot())
}

// ControlLED switches the board's LED.
func (s *Service) ControlLED(ctx context.Context, on bool) gate.Result {
	return s.control(ctx, gate.LED(on))
}

// ControlServo moves the door servo to angle degrees.
func (s *Service) ControlServo(ctx context.Context, angle int) gate.Result {
	return s.control(ctx, gate.Servo(angle))
}

// ControlRGB sets the RGB strip mode.
func (s *Service) ControlRGB(ctx context.Context, mode string) gate.Result {
	return s.control(ctx, gate.RGB(mode))
}

// ToggleServo sends 90 when the last status reports the door open, else 0.
func (s *Service) ToggleServo(ctx context.Context) gate.Result {
	angle := 0
	if d := s.tracker.Snapshot().Device; d != nil && d.Servo.Open {
		angle = 90
	}
	return s.ControlServo(ctx, angle)
}

func (s *Service) control(ctx context.Context, intent gate.Intent) gate.Result {
	res := s.gate.Send(ctx, intent, s.currentPresence())
	s.tracker.AddMessage(res.Message, !res.Success)
	s.poller.Trigger()
	return res
}

// RefreshWeatherData drops the cached weather, refetches it and triggers a
// full refresh.
func (s *Service) RefreshWeatherData(ctx context.Context) error {
	_, err := s.weather.Refresh(ctx)
	if err != nil {
		s.logger.Warn("weather refresh failed", "error", err)
		s.tracker.AddMessage("Failed to refresh weather data", true)
	} else {
		s.tracker.AddMessage("Weather data refreshed", false)
	}
	s.poller.Trigger()
	return err
}

// History returns up to limit recent presence transitions, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]history.Entry, error) {
	return s.history.RecentTransitions(ctx, limit)
}

// weatherTap remembers the last cache error seen during one tick.
type weatherTap struct {
	cache *weather.Cache
	mu    sync.Mutex
	err   error
}

func (w *weatherTap) Get(ctx context.Context) (weather.Weather, error) {
	v, err := w.cache.Get(ctx)
	if err != nil {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}
	return v, err
}

// boundedSource caps each sensor and status read at timeout.
type boundedSource struct {
	device.Source
	timeout time.Duration
}

func (b boundedSource) Sensors(ctx context.Context) (*device.SensorReading, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.Source.Sensors(ctx)
}

func (b boundedSource) Status(ctx context.Context) (*device.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.Source.Status(ctx)
}
