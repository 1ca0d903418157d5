// Package rtdb reads the board's state from, and writes commands to, a
// Redis-compatible realtime database the firmware syncs with.
package rtdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
)

// DefaultPrefix namespaces every key.
const DefaultPrefix = "esp32:"

// Redis is the subset of *redis.Client used here.
type Redis interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Store implements device.Source and device.Dispatcher over Redis.
type Store struct {
	rdb    Redis
	prefix string
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, prefix string) (*Store, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return New(rdb, prefix), rdb, nil
}

// New wraps an existing client.
func New(rdb Redis, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// get returns nil, nil for a missing key.
func (s *Store) get(ctx context.Context, name string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.key(name), err)
	}
	return val, nil
}

// LastSeen implements device.Source: the heartbeat key, else the timestamp
// of the stored sensor sample.
func (s *Store) LastSeen(ctx context.Context) (int64, error) {
	hb, err := s.get(ctx, "heartbeat")
	if err != nil {
		return 0, err
	}
	var heartbeat int64
	if hb != nil {
		if heartbeat, err = device.ParseHeartbeat(hb); err != nil {
			return 0, err
		}
	}
	if heartbeat > 0 {
		return heartbeat, nil
	}

	r, err := s.Sensors(ctx)
	if err != nil {
		return 0, err
	}
	var sensorTs int64
	if r != nil {
		sensorTs = r.Timestamp
	}
	return presence.LastSeen(0, sensorTs), nil
}

// Sensors implements device.Source.
func (s *Store) Sensors(ctx context.Context) (*device.SensorReading, error) {
	data, err := s.get(ctx, "sensors")
	if err != nil || data == nil {
		return nil, err
	}
	var r device.SensorReading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode sensors: %w", err)
	}
	r.FromFallback = false
	return &r, nil
}

// Status implements device.Source.
func (s *Store) Status(ctx context.Context) (*device.Status, error) {
	data, err := s.get(ctx, "status")
	if err != nil || data == nil {
		return nil, err
	}
	var st device.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &st, nil
}

// ControlRecord is what a command looks like in the database.
type ControlRecord struct {
	ID       string         `json:"id"`
	Kind     device.Kind    `json:"kind"`
	Value    map[string]any `json:"value"`
	IssuedAt int64          `json:"issuedAt"`
}

// Dispatch implements device.Dispatcher: the command is stored under
// control:<kind> for the firmware's next sync and announced on the control
// channel for listeners.
func (s *Store) Dispatch(ctx context.Context, cmd device.Command) (device.Ack, error) {
	rec := ControlRecord{ID: cmd.ID, Kind: cmd.Kind, Value: cmd.Body(), IssuedAt: cmd.IssuedAt.UnixMilli()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return device.Ack{}, fmt.Errorf("encode command: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key("control:"+string(cmd.Kind)), payload, 0).Err(); err != nil {
		return device.Ack{}, fmt.Errorf("store command: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.key("control"), payload).Err(); err != nil {
		return device.Ack{}, fmt.Errorf("announce command: %w", err)
	}
	return device.Ack{Success: true}, nil
}
