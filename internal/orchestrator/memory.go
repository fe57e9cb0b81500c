package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nidhogg/nuka-conductor/internal/plan"
)

// MemoryPersister keeps sessions in process memory. It stands in for the
// Postgres store in tests and when no database is configured.
type MemoryPersister struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{sessions: make(map[string]*Session)}
}

func (m *MemoryPersister) SaveSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryPersister) SaveTask(ctx context.Context, sessionID string, t *plan.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("save task %s: %w", t.ID, ErrSessionNotFound)
	}
	for i, existing := range s.Plan.Tasks {
		if existing.ID == t.ID {
			saved := *t
			s.Plan.Tasks[i] = &saved
			s.Plan.Graph.Nodes[t.ID] = &saved
			return nil
		}
	}
	return fmt.Errorf("save task %s: %w", t.ID, plan.ErrUnknownTask)
}

func (m *MemoryPersister) LoadSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, ErrSessionNotFound)
	}
	return s.Clone(), nil
}

func (m *MemoryPersister) ListSessions(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
