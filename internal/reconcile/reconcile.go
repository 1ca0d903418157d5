// Package reconcile merges the board's sensor values with the weather
// fallback, recording where each value came from.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
	"github.com/sweeney/home-dashboard/internal/weather"
)

// InvalidReading is the value the DHT driver reports when a read fails.
const InvalidReading = -999

// WeatherSource supplies fallback ambient values. *weather.Cache satisfies it.
type WeatherSource interface {
	Get(ctx context.Context) (weather.Weather, error)
}

// IsValidSensorPair reports whether a temperature/humidity pair from the
// board is usable. NaN, 0 and -999 are all failed reads.
func IsValidSensorPair(t, h float64) bool {
	return validValue(t) && validValue(h)
}

func validValue(v float64) bool {
	return !math.IsNaN(v) && v != 0 && v != InvalidReading
}

// Reconciler produces the displayed reading.
type Reconciler struct {
	weather WeatherSource
	now     func() time.Time
}

// New creates a Reconciler backed by w.
func New(w WeatherSource) *Reconciler {
	return &Reconciler{weather: w, now: time.Now}
}

// WithClock replaces time.Now, for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Reconcile merges reading with the weather fallback given the current
// presence. A nil reading or an absent device yields a fallback-only reading.
// The returned error is only the weather cache's; the reading is always usable.
func (r *Reconciler) Reconcile(ctx context.Context, reading *device.SensorReading, info presence.ConnectionInfo) (device.SensorReading, error) {
	if !info.IsOnline || reading == nil {
		return r.fallbackOnly(ctx)
	}

	out := *reading
	if IsValidSensorPair(out.Temperature, out.Humidity) {
		out.FromFallback = false
		return out, nil
	}

	w, err := r.weather.Get(ctx)
	out.Temperature = w.Temperature
	out.Humidity = w.Humidity
	out.FromFallback = true
	return out, err
}

func (r *Reconciler) fallbackOnly(ctx context.Context) (device.SensorReading, error) {
	w, err := r.weather.Get(ctx)
	return device.SensorReading{
		Temperature:  w.Temperature,
		Humidity:     w.Humidity,
		Timestamp:    r.now().Unix(),
		FromFallback: true,
	}, err
}

// Fetch reads the board's sensors (only when online) and reconciles them.
// A device failure degrades to the fallback-only reading; an error is
// returned only when the weather cache also fails, and then it joins both.
func (r *Reconciler) Fetch(ctx context.Context, src device.Source, info presence.ConnectionInfo) (device.SensorReading, error) {
	if !info.IsOnline {
		return r.fallbackOnly(ctx)
	}

	reading, devErr := src.Sensors(ctx)
	if devErr == nil {
		return r.Reconcile(ctx, reading, info)
	}

	out, wErr := r.fallbackOnly(ctx)
	if wErr != nil {
		return out, errors.Join(fmt.Errorf("read sensors: %w", devErr), wErr)
	}
	return out, nil
}
