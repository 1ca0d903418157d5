package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/sweeney/home-dashboard/internal/config"
	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/mqtt"
	"github.com/sweeney/home-dashboard/internal/rtdb"
	"github.com/sweeney/home-dashboard/internal/status"
)

// backends holds every transport the configuration asks for.
type backends struct {
	http  *device.HTTPClient
	store *rtdb.Store
	redis *redis.Client
	mqtt  *mqtt.Client
}

// openBackends connects the transports named by DEVICE_SOURCE and
// COMMAND_CHANNEL. MQTT is also opened when only a broker is configured, for
// presence events.
func openBackends(ctx context.Context, cfg *config.Config, tracker *status.Tracker, logger *slog.Logger) (*backends, error) {
	uses := func(b string) bool { return cfg.DeviceSource == b || cfg.CommandChannel == b }
	b := &backends{}

	if uses(config.BackendHTTP) {
		b.http = device.NewHTTPClient(cfg.DeviceAddr, device.WithHTTPTimeout(cfg.FetchTimeout))
	}

	if uses(config.BackendRTDB) {
		store, rdb, err := rtdb.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		b.store, b.redis = store, rdb
	}

	if uses(config.BackendMQTT) || cfg.MQTT.Broker != "" {
		opts := mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topics:   mqtt.Topics{Base: cfg.MQTT.TopicBase},
			Logger:   logger,
		}
		if tracker != nil {
			opts.OnConnectionChange = tracker.SetBrokerConnected
		}
		c, err := mqtt.NewClient(opts)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.mqtt = c
	}
	return b, nil
}

// source returns the configured device.Source.
func (b *backends) source(name string) (device.Source, error) {
	switch name {
	case config.BackendHTTP:
		if b.http != nil {
			return b.http, nil
		}
	case config.BackendRTDB:
		if b.store != nil {
			return b.store, nil
		}
	case config.BackendMQTT:
		if b.mqtt != nil {
			return b.mqtt, nil
		}
	}
	return nil, fmt.Errorf("device source %q is not available", name)
}

// dispatcher returns the configured device.Dispatcher.
func (b *backends) dispatcher(name string) (device.Dispatcher, error) {
	switch name {
	case config.BackendHTTP:
		if b.http != nil {
			return b.http, nil
		}
	case config.BackendRTDB:
		if b.store != nil {
			return b.store, nil
		}
	case config.BackendMQTT:
		if b.mqtt != nil {
			return b.mqtt, nil
		}
	}
	return nil, fmt.Errorf("command channel %q is not available", name)
}

// publisher returns the MQTT publisher, or nil when no broker is configured.
func (b *backends) publisher() mqtt.Publisher {
	if b.mqtt == nil {
		return nil
	}
	return b.mqtt
}

// Close releases every open transport.
func (b *backends) Close() {
	if b.mqtt != nil {
		b.mqtt.Close()
	}
	if b.redis != nil {
		b.redis.Close()
	}
}

// statusConfig is the configuration shown on the dashboard.
func statusConfig(cfg *config.Config) status.Config {
	addr := cfg.DeviceAddr
	switch cfg.DeviceSource {
	case config.BackendRTDB:
		addr = cfg.Redis.Addr
	case config.BackendMQTT:
		addr = cfg.MQTT.Broker
	}
	return status.Config{
		DeviceAddr:  addr,
		Source:      cfg.DeviceSource,
		Channel:     cfg.CommandChannel,
		City:        cfg.Location.City,
		PollMs:      cfg.PollInterval.Milliseconds(),
		ThresholdMs: cfg.OnlineThreshold.Milliseconds(),
		CacheTTLMs:  cfg.Weather.CacheTTL.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTPAddr,
	}
}
