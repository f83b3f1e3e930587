package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"simorchestrator/internal/run"

	"github.com/google/uuid"
)

// DB is the subset of *sql.DB the store uses.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PingContext(ctx context.Context) error
}

const selectColumns = `id, model_name, state, started_at, ended_at, engine_parameters,
	agent_parameters, port, description, created_at, updated_at`

// RunStore implements run.Store on the simulation_runs table.
type RunStore struct {
	db  DB
	now func() time.Time
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db, now: time.Now}
}

func (s *RunStore) Create(ctx context.Context, r *run.Run) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("run store not initialized")
	}
	id := uuid.NewString()
	now := s.now().UTC()

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO simulation_runs (
			id, model_name, state, started_at, ended_at, engine_parameters,
			agent_parameters, port, description, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		id,
		strings.TrimSpace(r.ModelName),
		string(r.State),
		nullTime(r.StartedAt),
		nullTime(r.EndedAt),
		nullJSON(r.EngineParameters),
		nullJSON(r.AgentParameters),
		nullPort(r.Port),
		r.Description,
		now,
		now,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*run.Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, run.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM simulation_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err != nil {
		return nil, handleNotFound(err)
	}
	return r, nil
}

func (s *RunStore) Update(ctx context.Context, r *run.Run) error {
	if s == nil || s.db == nil {
		return errors.New("run store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE simulation_runs
		 SET model_name = $2, state = $3, started_at = $4, ended_at = $5,
			engine_parameters = $6, agent_parameters = $7, port = $8,
			description = $9, updated_at = $10
		 WHERE id = $1`,
		r.ID,
		strings.TrimSpace(r.ModelName),
		string(r.State),
		nullTime(r.StartedAt),
		nullTime(r.EndedAt),
		nullJSON(r.EngineParameters),
		nullJSON(r.AgentParameters),
		nullPort(r.Port),
		r.Description,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return run.ErrNotFound
	}
	return nil
}

func (s *RunStore) ListByState(ctx context.Context, state run.State) ([]*run.Run, error) {
	return s.list(ctx, listFilter{State: state})
}

func (s *RunStore) ListByDateRange(ctx context.Context, from, to time.Time) ([]*run.Run, error) {
	return s.list(ctx, listFilter{From: from, To: to})
}

func (s *RunStore) ListByModelName(ctx context.Context, name string) ([]*run.Run, error) {
	return s.list(ctx, listFilter{ModelName: name})
}

func (s *RunStore) List(ctx context.Context, limit int) ([]*run.Run, error) {
	return s.list(ctx, listFilter{Limit: limit})
}

func (s *RunStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("run store not initialized")
	}
	return s.db.PingContext(ctx)
}

type listFilter struct {
	State     run.State
	ModelName string
	From, To  time.Time
	Limit     int
}

func buildListQuery(f listFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	if name := strings.TrimSpace(f.ModelName); name != "" {
		add("model_name = $%d", name)
	}
	if !f.From.IsZero() {
		add("started_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("started_at <= $%d", f.To.UTC())
	}

	query := `SELECT ` + selectColumns + ` FROM simulation_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

func (s *RunStore) list(ctx context.Context, f listFilter) ([]*run.Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("run store not initialized")
	}
	query, args := buildListQuery(f)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]*run.Run, 0)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*run.Run, error) {
	var (
		r          run.Run
		state      string
		startedAt  sql.NullTime
		endedAt    sql.NullTime
		engineJSON []byte
		agentJSON  []byte
		port       sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.ModelName, &state, &startedAt, &endedAt, &engineJSON,
		&agentJSON, &port, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.State = run.State(state)
	r.StartedAt = timePtr(startedAt)
	r.EndedAt = timePtr(endedAt)
	if len(engineJSON) > 0 {
		r.EngineParameters = json.RawMessage(engineJSON)
	}
	if len(agentJSON) > 0 {
		r.AgentParameters = json.RawMessage(agentJSON)
	}
	if port.Valid {
		p := int(port.Int64)
		r.Port = &p
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullPort(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func handleNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return run.ErrNotFound
	}
	return err
}

var _ run.Store = (*RunStore)(nil)
