package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"simorchestrator/internal/run"
)

func TestBuildListQueryWithoutFilters(t *testing.T) {
	query, args := buildListQuery(listFilter{})
	if len(args) != 0 {
		t.Fatalf("expected no args, got %v", args)
	}
	if strings.Contains(query, "WHERE") {
		t.Fatalf("expected no predicate, got %s", query)
	}
	if !strings.Contains(query, "ORDER BY created_at DESC") {
		t.Fatalf("expected newest-first ordering, got %s", query)
	}
}

func TestBuildListQueryByState(t *testing.T) {
	query, args := buildListQuery(listFilter{State: run.StateRunning})
	if len(args) != 1 || args[0] != "RUNNING" {
		t.Fatalf("expected state as first arg, got %v", args)
	}
	if !strings.Contains(query, "state = $1") {
		t.Fatalf("expected state predicate in query, got %s", query)
	}
}

func TestBuildListQueryDateRangeAndLimit(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	query, args := buildListQuery(listFilter{From: from, To: to, Limit: 10})
	if len(args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(args))
	}
	if !strings.Contains(query, "started_at >= $1 AND started_at <= $2") {
		t.Fatalf("expected inclusive range predicate, got %s", query)
	}
	if !strings.Contains(query, "LIMIT $3") {
		t.Fatalf("expected limit in query, got %s", query)
	}
}

type fakeRow struct {
	values []any
	err    error
}

func (f fakeRow) Scan(dest ...any) error {
	if f.err != nil {
		return f.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = f.values[i].(string)
		case *sql.NullTime:
			*p = f.values[i].(sql.NullTime)
		case *[]byte:
			if f.values[i] != nil {
				*p = f.values[i].([]byte)
			}
		case *sql.NullInt64:
			*p = f.values[i].(sql.NullInt64)
		case *time.Time:
			*p = f.values[i].(time.Time)
		}
	}
	return nil
}

func TestScanRunMapsNullableColumns(t *testing.T) {
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	row := fakeRow{values: []any{
		"run-1", "harbour", "FINISHED",
		sql.NullTime{Time: now, Valid: true},
		sql.NullTime{Time: now.Add(time.Minute), Valid: true},
		[]byte(`{"stopTime":10}`),
		nil,
		sql.NullInt64{Int64: 8080, Valid: true},
		"done", now, now,
	}}

	r, err := scanRun(row)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.State != run.StateFinished {
		t.Errorf("expected FINISHED, got %s", r.State)
	}
	if r.StartedAt == nil || r.EndedAt == nil {
		t.Fatal("expected timestamps to be set")
	}
	if r.Port == nil || *r.Port != 8080 {
		t.Errorf("expected port 8080, got %v", r.Port)
	}
	if !json.Valid(r.EngineParameters) {
		t.Errorf("expected engine parameters, got %s", r.EngineParameters)
	}
	if r.AgentParameters != nil {
		t.Errorf("expected nil agent parameters, got %s", r.AgentParameters)
	}
}

func TestScanRunNoRowsIsNotFound(t *testing.T) {
	_, err := scanRun(fakeRow{err: sql.ErrNoRows})
	if !errors.Is(handleNotFound(err), run.ErrNotFound) {
		t.Fatalf("expected run.ErrNotFound, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{URL: "postgres://localhost/sim", PingTimeout: time.Second, MaxOpenConns: 4, MaxIdleConns: 2}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.URL = "" }},
		{"zero ping timeout", func(c *Config) { c.PingTimeout = 0 }},
		{"no open conns", func(c *Config) { c.MaxOpenConns = 0 }},
		{"idle above open", func(c *Config) { c.MaxIdleConns = 5 }},
		{"negative lifetime", func(c *Config) { c.ConnMaxLifetime = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
