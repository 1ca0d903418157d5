// Package weather provides ambient temperature/humidity from a third-party
// weather service, memoized with a fixed TTL.
package weather

import (
	"context"
	"errors"
	"math"
)

// Default values served when the weather service cannot be reached.
const (
	DefaultTemperature = 28.5
	DefaultHumidity    = 65.0
)

// ErrNoAPIKey is returned by clients configured without an API key.
var ErrNoAPIKey = errors.New("weather: no API key configured")

// Location is the point weather is fetched for.
type Location struct {
	Lat  float64 `yaml:"lat" json:"lat"`
	Lon  float64 `yaml:"lon" json:"lon"`
	City string  `yaml:"city" json:"city"`
}

// Weather is one ambient observation, rounded to one decimal place.
type Weather struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Default returns the climatological default reading.
func Default() Weather {
	return Weather{Temperature: DefaultTemperature, Humidity: DefaultHumidity}
}

// Fetcher retrieves current weather for a location.
type Fetcher interface {
	Fetch(ctx context.Context, loc Location) (Weather, error)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
