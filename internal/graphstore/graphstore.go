package graphstore

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"go.uber.org/zap"
)

// Store mirrors plan graphs into Neo4j as (:Task)-[:DEPENDS_ON]->(:Task).
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// New creates a Neo4j graph store. Empty user disables authentication.
func New(uri, user, password string, logger *zap.Logger) (*Store, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraint on task keys.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := neo4j.ExecuteQuery(ctx, s.driver,
		`CREATE CONSTRAINT task_key IF NOT EXISTS FOR (t:Task) REQUIRE (t.session_id, t.id) IS UNIQUE`,
		nil, neo4j.EagerResultTransformer)
	if err != nil {
		return fmt.Errorf("ensure task constraint: %w", err)
	}
	return nil
}

// ExportPlan replaces the stored graph of sessionID with p.
func (s *Store) ExportPlan(ctx context.Context, sessionID string, p *plan.Plan) error {
	nodes := make([]map[string]any, 0, len(p.Tasks))
	var edges []map[string]any
	for _, t := range p.Tasks {
		nodes = append(nodes, map[string]any{
			"id":         t.ID,
			"title":      t.Title,
			"type":       string(t.Type),
			"domain":     string(t.Domain),
			"status":     string(t.Status),
			"priority":   t.Priority.String(),
			"level":      t.Level,
			"agent":      string(t.AssignedAgent),
			"estimateMs": t.EstimatedTime.Milliseconds(),
		})
		for _, dep := range t.Dependencies {
			edges = append(edges, map[string]any{"from": t.ID, "to": dep})
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`MATCH (t:Task {session_id: $session}) DETACH DELETE t`,
			map[string]any{"session": sessionID}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			`UNWIND $nodes AS n
			 CREATE (t:Task {session_id: $session, plan_id: $plan, id: n.id, title: n.title,
			   type: n.type, domain: n.domain, status: n.status, priority: n.priority,
			   level: n.level, agent: n.agent, estimate_ms: n.estimateMs})`,
			map[string]any{"session": sessionID, "plan": p.ID, "nodes": nodes}); err != nil {
			return nil, err
		}
		if len(edges) == 0 {
			return nil, nil
		}
		_, err := tx.Run(ctx,
			`UNWIND $edges AS e
			 MATCH (a:Task {session_id: $session, id: e.from}), (b:Task {session_id: $session, id: e.to})
			 CREATE (a)-[:DEPENDS_ON]->(b)`,
			map[string]any{"session": sessionID, "edges": edges})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("export plan %s: %w", sessionID, err)
	}
	s.logger.Debug("plan exported",
		zap.String("session", sessionID),
		zap.Int("tasks", len(nodes)),
		zap.Int("edges", len(edges)))
	return nil
}

// Dependents returns every task that transitively depends on taskID, sorted by level then id.
func (s *Store) Dependents(ctx context.Context, sessionID, taskID string) ([]string, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MATCH (d:Task {session_id: $session})-[:DEPENDS_ON*1..]->(t:Task {session_id: $session, id: $task})
		 WITH DISTINCT d
		 RETURN d.id AS id ORDER BY d.level, d.id`,
		map[string]any{"session": sessionID, "task": taskID},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("dependents of %s: %w", taskID, err)
	}
	ids := make([]string, 0, len(result.Records))
	for _, rec := range result.Records {
		id, _, err := neo4j.GetRecordValue[string](rec, "id")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DeletePlan removes the stored graph of sessionID.
func (s *Store) DeletePlan(ctx context.Context, sessionID string) error {
	_, err := neo4j.ExecuteQuery(ctx, s.driver,
		`MATCH (t:Task {session_id: $session}) DETACH DELETE t`,
		map[string]any{"session": sessionID}, neo4j.EagerResultTransformer)
	return err
}
