package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/orchestrator"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"github.com/nidhogg/nuka-conductor/internal/selector"
)

var _ orchestrator.Persister = (*Store)(nil)

const upsertTask = `
	INSERT INTO tasks (session_id, id, title, status, assigned_agent, retry_count, error, data, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	ON CONFLICT (session_id, id) DO UPDATE SET
		status = EXCLUDED.status,
		assigned_agent = EXCLUDED.assigned_agent,
		retry_count = EXCLUDED.retry_count,
		error = EXCLUDED.error,
		data = EXCLUDED.data,
		updated_at = EXCLUDED.updated_at`

// SaveSession upserts the session row and all of its tasks in one transaction.
func (s *Store) SaveSession(ctx context.Context, sess *orchestrator.Session) error {
	analysis, err := json.Marshal(sess.Analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}
	planJSON, err := json.Marshal(sess.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	selections, err := json.Marshal(sess.Selections)
	if err != nil {
		return fmt.Errorf("marshal selections: %w", err)
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, request, status, analysis, plan, selections, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				plan = EXCLUDED.plan,
				selections = EXCLUDED.selections,
				updated_at = EXCLUDED.updated_at`,
			sess.ID, sess.Request, string(sess.Status), analysis, planJSON, selections,
			sess.CreatedAt, sess.UpdatedAt,
		)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, t := range sess.Plan.Tasks {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshal task %s: %w", t.ID, err)
			}
			batch.Queue(upsertTask, sess.ID, t.ID, t.Title, string(t.Status),
				string(t.AssignedAgent), t.RetryCount, t.Error, data)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// SaveTask upserts one task's current state.
func (s *Store) SaveTask(ctx context.Context, sessionID string, t *plan.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(ctx, upsertTask, sessionID, t.ID, t.Title, string(t.Status),
		string(t.AssignedAgent), t.RetryCount, t.Error, data)
	if err != nil {
		return fmt.Errorf("save task %s/%s: %w", sessionID, t.ID, err)
	}
	return nil
}

// LoadSession reads a session and overlays the latest task rows onto its plan.
func (s *Store) LoadSession(ctx context.Context, id string) (*orchestrator.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request, status, analysis, plan, selections, created_at, updated_at
		FROM sessions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sessions, err := s.scanSessions(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("load session %s: %w", id, orchestrator.ErrSessionNotFound)
	}
	return sessions[0], nil
}

// ListSessions returns every session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]*orchestrator.Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, request, status, analysis, plan, selections, created_at, updated_at
		FROM sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions, err := s.scanSessions(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) scanSessions(ctx context.Context, rows pgx.Rows) ([]*orchestrator.Session, error) {
	defer rows.Close()
	var out []*orchestrator.Session
	for rows.Next() {
		var (
			sess                           orchestrator.Session
			analysis, planJSON, selections []byte
		)
		if err := rows.Scan(&sess.ID, &sess.Request, &sess.Status, &analysis, &planJSON,
			&selections, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Analysis = &intent.Analysis{}
		if err := json.Unmarshal(analysis, sess.Analysis); err != nil {
			return nil, fmt.Errorf("decode analysis of %s: %w", sess.ID, err)
		}
		var p plan.Plan
		if err := json.Unmarshal(planJSON, &p); err != nil {
			return nil, fmt.Errorf("decode plan of %s: %w", sess.ID, err)
		}
		sess.Plan = &p
		sess.Selections = map[string]selector.Selection{}
		if err := json.Unmarshal(selections, &sess.Selections); err != nil {
			return nil, fmt.Errorf("decode selections of %s: %w", sess.ID, err)
		}
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sess := range out {
		if err := s.overlayTasks(ctx, sess); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// overlayTasks replaces plan tasks with their stored rows and rebuilds the graph.
func (s *Store) overlayTasks(ctx context.Context, sess *orchestrator.Session) error {
	rows, err := s.db.Query(ctx, `SELECT id, data FROM tasks WHERE session_id = $1`, sess.ID)
	if err != nil {
		return fmt.Errorf("load tasks of %s: %w", sess.ID, err)
	}
	stored, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*plan.Task, error) {
		var id string
		var data []byte
		if err := row.Scan(&id, &data); err != nil {
			return nil, err
		}
		var t plan.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", id, err)
		}
		return &t, nil
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("load tasks of %s: %w", sess.ID, err)
	}

	byID := make(map[string]*plan.Task, len(stored))
	for _, t := range stored {
		byID[t.ID] = t
	}
	for i, t := range sess.Plan.Tasks {
		if latest, ok := byID[t.ID]; ok {
			sess.Plan.Tasks[i] = latest
		}
	}
	rebuilt, err := plan.NewPlan(sess.Plan.ID, sess.Plan.Intent, sess.Plan.Tasks)
	if err != nil {
		return fmt.Errorf("rebuild plan of %s: %w", sess.ID, err)
	}
	sess.Plan = rebuilt
	return nil
}
