package history

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
)

var at = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestEntryFrom(t *testing.T) {
	ev := presence.NewEvaluator(30*time.Second, time.UTC)
	info := ev.Evaluate(at.Add(-45*time.Second).UnixMilli(), at)
	e := EntryFrom(presence.Transition{From: presence.StatusOnline, To: presence.StatusOffline, At: at, Info: info})
	if e.SecondsOffline != 45 || e.LastSeenMs != info.LastSeenMs || !e.At.Equal(at) {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestMemoryNewestFirstBounded(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		m.RecordTransition(ctx, Entry{At: at.Add(time.Duration(i) * time.Second), SecondsOffline: int64(i)})
	}

	got, _ := m.RecentTransitions(ctx, 0)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].SecondsOffline != 4 || got[2].SecondsOffline != 2 {
		t.Errorf("unexpected order: %+v", got)
	}

	got, _ = m.RecentTransitions(ctx, 2)
	if len(got) != 2 || got[0].SecondsOffline != 4 {
		t.Errorf("unexpected limited result: %+v", got)
	}

	m.RecordReading(ctx, device.SensorReading{}, at)
	if m.Readings() != 1 {
		t.Errorf("got %d readings, want 1", m.Readings())
	}
}

type execCall struct {
	sql  string
	args []any
}

// fakeRows replays fixed rows.
type fakeRows struct {
	pgx.Rows
	rows [][]any
	i    int
}

func (r *fakeRows) Next() bool {
	r.i++
	return r.i <= len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.i-1]
	for i, d := range dest {
		switch p := d.(type) {
		case *time.Time:
			*p = row[i].(time.Time)
		case *string:
			*p = row[i].(string)
		case *int64:
			*p = row[i].(int64)
		default:
			return errors.New("unsupported scan type")
		}
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     {}

type fakeDB struct {
	execs   []execCall
	rows    [][]any
	execErr error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql, args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return &fakeRows{rows: f.rows}, nil
}

func TestPostgresRecord(t *testing.T) {
	db := &fakeDB{}
	p := NewPostgres(db)
	ctx := context.Background()

	if err := p.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(db.execs[0].sql, "presence_transitions") {
		t.Errorf("unexpected schema: %s", db.execs[0].sql)
	}

	err := p.RecordTransition(ctx, Entry{At: at, From: presence.StatusOnline, To: presence.StatusError})
	if err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	if db.execs[1].args[1] != "online" || db.execs[1].args[2] != "error" {
		t.Errorf("unexpected args: %v", db.execs[1].args)
	}

	err = p.RecordReading(ctx, device.SensorReading{Temperature: 31, FromFallback: true}, at)
	if err != nil {
		t.Fatalf("RecordReading: %v", err)
	}
	if db.execs[2].args[7] != true {
		t.Errorf("expected from_fallback arg, got %v", db.execs[2].args)
	}

	db.execErr = errors.New("relation does not exist")
	if err := p.RecordTransition(ctx, Entry{}); err == nil {
		t.Error("expected error")
	}
}

func TestPostgresRecentTransitions(t *testing.T) {
	db := &fakeDB{rows: [][]any{
		{at.Add(time.Minute), "online", "offline", int64(1767268755000), int64(45)},
		{at, "unknown", "online", int64(1767268790000), int64(0)},
	}}
	got, err := NewPostgres(db).RecentTransitions(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentTransitions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].To != presence.StatusOffline || got[0].SecondsOffline != 45 {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
}
