// Package config loads service configuration from defaults, an optional
// YAML file and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/home-dashboard/internal/weather"
)

// Backend names accepted for DEVICE_SOURCE and COMMAND_CHANNEL.
const (
	BackendHTTP = "http"
	BackendRTDB = "rtdb"
	BackendMQTT = "mqtt"
)

// Config is the full service configuration.
type Config struct {
	DeviceAddr     string `yaml:"device_addr"`
	DeviceSource   string `yaml:"device_source"`
	CommandChannel string `yaml:"command_channel"`

	Weather struct {
		APIKey   string        `yaml:"api_key"`
		APIBase  string        `yaml:"api_base"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"weather"`
	Location weather.Location `yaml:"location"`
	Timezone string           `yaml:"timezone"`

	OnlineThreshold time.Duration `yaml:"online_threshold"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	PresenceTimeout time.Duration `yaml:"presence_timeout"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`

	HTTPAddr string `yaml:"http_addr"`

	Redis struct {
		Addr   string `yaml:"addr"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	MQTT struct {
		Broker    string `yaml:"broker"`
		TopicBase string `yaml:"topic_base"`
		ClientID  string `yaml:"client_id"`
	} `yaml:"mqtt"`

	PostgresURL string `yaml:"postgres_url"`

	Indicator struct {
		Chip string `yaml:"chip"`
		Pin  int    `yaml:"pin"` // -1 disables
	} `yaml:"indicator"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c := &Config{
		DeviceAddr:      "192.168.100.43",
		DeviceSource:    BackendHTTP,
		CommandChannel:  BackendHTTP,
		Location:        weather.Location{Lat: -6.2088, Lon: 106.8456, City: "Jakarta"},
		OnlineThreshold: 30 * time.Second,
		PollInterval:    3 * time.Second,
		PresenceTimeout: 3 * time.Second,
		FetchTimeout:    5 * time.Second,
		HTTPAddr:        ":8080",
		PostgresURL:     "",
	}
	c.Weather.APIBase = weather.DefaultBaseURL
	c.Weather.CacheTTL = weather.DefaultTTL
	c.Redis.Prefix = "esp32:"
	c.MQTT.TopicBase = "smarthome/esp32"
	c.MQTT.ClientID = "home-dashboard"
	c.Indicator.Chip = "gpiochip0"
	c.Indicator.Pin = -1
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables. The result is validated.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("DEVICE_ADDR", &c.DeviceAddr)
	e.str("DEVICE_SOURCE", &c.DeviceSource)
	e.str("COMMAND_CHANNEL", &c.CommandChannel)
	e.str("WEATHER_API_KEY", &c.Weather.APIKey)
	e.str("WEATHER_API_BASE", &c.Weather.APIBase)
	e.float("LOCATION_LAT", &c.Location.Lat)
	e.float("LOCATION_LON", &c.Location.Lon)
	e.str("LOCATION_CITY", &c.Location.City)
	e.str("TIMEZONE", &c.Timezone)
	e.duration("WEATHER_CACHE_TTL", &c.Weather.CacheTTL)
	e.duration("ONLINE_THRESHOLD", &c.OnlineThreshold)
	e.duration("POLL_INTERVAL", &c.PollInterval)
	e.duration("PRESENCE_TIMEOUT", &c.PresenceTimeout)
	e.duration("FETCH_TIMEOUT", &c.FetchTimeout)
	e.str("HTTP_ADDR", &c.HTTPAddr)
	e.str("REDIS_ADDR", &c.Redis.Addr)
	e.str("REDIS_PREFIX", &c.Redis.Prefix)
	e.str("MQTT_BROKER", &c.MQTT.Broker)
	e.str("MQTT_TOPIC_BASE", &c.MQTT.TopicBase)
	e.str("MQTT_CLIENT_ID", &c.MQTT.ClientID)
	e.str("POSTGRES_URL", &c.PostgresURL)
	e.str("INDICATOR_CHIP", &c.Indicator.Chip)
	e.int("INDICATOR_PIN", &c.Indicator.Pin)
	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = f
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(validBackend(c.DeviceSource), "device_source %q: want http, rtdb or mqtt", c.DeviceSource)
	check(validBackend(c.CommandChannel), "command_channel %q: want http, rtdb or mqtt", c.CommandChannel)
	uses := func(b string) bool { return c.DeviceSource == b || c.CommandChannel == b }
	check(!uses(BackendHTTP) || c.DeviceAddr != "", "device_addr is required for the http backend")
	check(!uses(BackendRTDB) || c.Redis.Addr != "", "redis.addr is required for the rtdb backend")
	check(!uses(BackendMQTT) || c.MQTT.Broker != "", "mqtt.broker is required for the mqtt backend")

	check(c.Location.Lat >= -90 && c.Location.Lat <= 90, "location.lat %v out of range", c.Location.Lat)
	check(c.Location.Lon >= -180 && c.Location.Lon <= 180, "location.lon %v out of range", c.Location.Lon)
	check(c.Weather.CacheTTL > 0, "weather.cache_ttl must be positive")
	check(c.OnlineThreshold > 0, "online_threshold must be positive")
	check(c.PollInterval > 0, "poll_interval must be positive")
	check(c.PresenceTimeout > 0, "presence_timeout must be positive")
	check(c.FetchTimeout > 0, "fetch_timeout must be positive")
	check(c.HTTPAddr != "", "http_addr is required")

	if c.Timezone != "" {
		_, err := time.LoadLocation(c.Timezone)
		check(err == nil, "timezone %q: %v", c.Timezone, err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q: want text or json", c.Log.Format)

	return errors.Join(errs...)
}

func validBackend(b string) bool {
	return b == BackendHTTP || b == BackendRTDB || b == BackendMQTT
}

// TimeLocation returns the configured display timezone, or time.Local.
// Call after Validate.
func (c *Config) TimeLocation() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
