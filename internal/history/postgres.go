package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
)

const schema = `
CREATE TABLE IF NOT EXISTS presence_transitions (
	id              BIGSERIAL PRIMARY KEY,
	at              TIMESTAMPTZ NOT NULL,
	from_status     TEXT NOT NULL,
	to_status       TEXT NOT NULL,
	last_seen_ms    BIGINT NOT NULL,
	seconds_offline BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS readings (
	at            TIMESTAMPTZ NOT NULL,
	device_ts     BIGINT NOT NULL,
	temperature   DOUBLE PRECISION NOT NULL,
	humidity      DOUBLE PRECISION NOT NULL,
	light_level   INTEGER NOT NULL,
	distance      DOUBLE PRECISION NOT NULL,
	motion        BOOLEAN NOT NULL,
	from_fallback BOOLEAN NOT NULL
);`

// DB is the subset of *pgxpool.Pool used here.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres stores history in PostgreSQL (or TimescaleDB).
type Postgres struct {
	db DB
}

// Connect opens a pool to url, verifies it, and creates the tables.
func Connect(ctx context.Context, url string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("configure postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := NewPostgres(pool)
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return p, pool, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create history tables: %w", err)
	}
	return nil
}

// RecordTransition implements Recorder.
func (p *Postgres) RecordTransition(ctx context.Context, e Entry) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO presence_transitions (at, from_status, to_status, last_seen_ms, seconds_offline) VALUES ($1, $2, $3, $4, $5)`,
		e.At, string(e.From), string(e.To), e.LastSeenMs, e.SecondsOffline)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// RecordReading implements Recorder.
func (p *Postgres) RecordReading(ctx context.Context, r device.SensorReading, at time.Time) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO readings (at, device_ts, temperature, humidity, light_level, distance, motion, from_fallback) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		at, r.Timestamp, r.Temperature, r.Humidity, r.LightLevel, r.Distance, r.MotionDetected, r.FromFallback)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// RecentTransitions implements Recorder.
func (p *Postgres) RecentTransitions(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx,
		`SELECT at, from_status, to_status, last_seen_ms, seconds_offline FROM presence_transitions ORDER BY at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var from, to string
		if err := rows.Scan(&e.At, &from, &to, &e.LastSeenMs, &e.SecondsOffline); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.From, e.To = presence.Status(from), presence.Status(to)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read transitions: %w", err)
	}
	return out, nil
}
