// Package store implements an optional durable BuildSession/ScheduledJob
// store backed by Postgres. It is purely additive: the scheduler's
// in-memory path works unmodified with no database configured; this
// package only gives a coordinator restart a way to recover in-flight
// build state when one is configured.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"go.buildorc.dev/internal/log"
	"go.buildorc.dev/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS build_sessions (
	build_id TEXT PRIMARY KEY,
	data     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS scheduled_jobs (
	job_id   TEXT PRIMARY KEY,
	build_id TEXT NOT NULL,
	data     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store persists BuildSessions and ScheduledJobs to Postgres.
type Store struct {
	pool *pgxpool.Pool
	log  log.Logger
}

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Nop()
	}
	pool, err := pgxpool.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connecting: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: applying schema: %w", err)
	}
	return &Store{pool: pool, log: logger}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveSession upserts session's current state.
func (s *Store) SaveSession(ctx context.Context, session *model.BuildSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("store: marshaling session: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO build_sessions (build_id, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (build_id) DO UPDATE SET data = $2, updated_at = now()
	`, session.BuildID, data)
	if err != nil {
		return fmt.Errorf("store: saving session %q: %w", session.BuildID, err)
	}
	return nil
}

// LoadSession returns the persisted BuildSession by id.
func (s *Store) LoadSession(ctx context.Context, buildID string) (*model.BuildSession, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM build_sessions WHERE build_id = $1`, buildID).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: loading session %q: %w", buildID, err)
	}
	var session model.BuildSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("store: unmarshaling session %q: %w", buildID, err)
	}
	return &session, nil
}

// LoadAllSessions returns every persisted session whose state is not yet
// terminal, used to repopulate the scheduler after a coordinator restart.
func (s *Store) LoadAllSessions(ctx context.Context) ([]*model.BuildSession, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM build_sessions`)
	if err != nil {
		return nil, fmt.Errorf("store: querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.BuildSession
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scanning session row: %w", err)
		}
		var session model.BuildSession
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, fmt.Errorf("store: unmarshaling session row: %w", err)
		}
		if session.State.IsTerminal() {
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// SaveJob upserts job's current state.
func (s *Store) SaveJob(ctx context.Context, job *model.ScheduledJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("store: marshaling job: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (job_id, build_id, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (job_id) DO UPDATE SET data = $3, updated_at = now()
	`, job.JobID, job.BuildID, data)
	if err != nil {
		return fmt.Errorf("store: saving job %q: %w", job.JobID, err)
	}
	return nil
}

// LoadJobsForBuild returns every persisted job belonging to buildID.
func (s *Store) LoadJobsForBuild(ctx context.Context, buildID string) ([]*model.ScheduledJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM scheduled_jobs WHERE build_id = $1`, buildID)
	if err != nil {
		return nil, fmt.Errorf("store: querying jobs for build %q: %w", buildID, err)
	}
	defer rows.Close()

	var jobs []*model.ScheduledJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: scanning job row: %w", err)
		}
		var job model.ScheduledJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("store: unmarshaling job row: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
