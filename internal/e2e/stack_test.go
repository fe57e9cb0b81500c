//go:build integration

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/graphstore"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/orchestrator"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"github.com/nidhogg/nuka-conductor/internal/selector"
	pgstore "github.com/nidhogg/nuka-conductor/internal/store"
	"github.com/nidhogg/nuka-conductor/internal/tool"
)

type backends struct {
	pg    *pgstore.Store
	redis *bus.RedisArchiver
	graph *graphstore.Store
}

func startBackends(t *testing.T) backends {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	pgC, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("conductor_e2e"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { testcontainers.TerminateContainer(pgC) })
	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}
	pg, err := pgstore.New(ctx, dsn, logger)
	if err != nil {
		t.Fatalf("pg store: %v", err)
	}
	t.Cleanup(pg.Close)
	if err := pg.Migrate(ctx, ""); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	redisC, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { testcontainers.TerminateContainer(redisC) })
	endpoint, err := redisC.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	ra, err := bus.NewRedisArchiver("redis://"+endpoint, logger)
	if err != nil {
		t.Fatalf("redis archiver: %v", err)
	}
	t.Cleanup(func() { ra.Close() })

	neoC, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { testcontainers.TerminateContainer(neoC) })
	uri, err := neoC.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("bolt url: %v", err)
	}
	gs, err := graphstore.New(uri, "", "", logger)
	if err != nil {
		t.Fatalf("graph store: %v", err)
	}
	t.Cleanup(func() { gs.Close(ctx) })
	if err := gs.EnsureSchema(ctx); err != nil {
		t.Fatalf("graph schema: %v", err)
	}

	return backends{pg: pg, redis: ra, graph: gs}
}

// TestPipelineAgainstBackends runs a plan with every backend attached and
// checks what each one recorded.
func TestPipelineAgainstBackends(t *testing.T) {
	be := startBackends(t)
	logger := zap.NewNop()
	catalog := capability.DefaultCatalog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bus.New(bus.Config{TickInterval: 10 * time.Millisecond}, logger)
	b.SetArchiver(bus.Archivers{be.pg, be.redis})
	b.Start(ctx)
	defer b.Stop()

	reg := tool.NewRegistry(tool.NewRateLimiter(100, time.Minute), logger)
	tool.RegisterBuiltins(reg)

	orch := orchestrator.New(orchestrator.Deps{
		Analyzer:   intent.NewAnalyzer(catalog, logger),
		Decomposer: plan.NewDecomposer(logger),
		Selector:   selector.New(catalog, logger),
		Bus:        b,
		Persister:  be.pg,
		Exporter:   be.graph,
	}, orchestrator.Config{TaskTimeout: 5 * time.Second}, logger)
	defer orch.Close()
	for _, w := range orchestrator.StartWorkers(catalog, b, reg, orch.Name(), logger) {
		defer w.Stop()
	}

	s, err := orch.Plan(ctx, "Create a simple script to parse CSV")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	runCtx, runCancel := context.WithTimeout(ctx, 30*time.Second)
	defer runCancel()
	if err := orch.Execute(runCtx, s.ID); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// postgres holds the finished session
	stored, err := be.pg.LoadSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if stored.Status != orchestrator.SessionCompleted {
		t.Errorf("stored status = %s", stored.Status)
	}
	for _, task := range stored.Plan.Tasks {
		if task.Status != plan.StatusCompleted {
			t.Errorf("stored task %s = %s", task.ID, task.Status)
		}
	}

	// archives catch up asynchronously with dispatch
	want := len(s.Plan.Tasks)
	deadline := time.Now().Add(5 * time.Second)
	var pgResponses, redisResponses int
	for time.Now().Before(deadline) {
		pgResponses, redisResponses = 0, 0
		msgs, err := be.pg.Messages(ctx, orch.Name(), 100)
		if err != nil {
			t.Fatalf("pg messages: %v", err)
		}
		for _, m := range msgs {
			if m.Type == bus.TypeResponse {
				pgResponses++
			}
		}
		replayed, err := be.redis.Replay(ctx, orch.Name(), 100)
		if err != nil {
			t.Fatalf("redis replay: %v", err)
		}
		for _, m := range replayed {
			if m.Type == bus.TypeResponse {
				redisResponses++
			}
		}
		if pgResponses >= want && redisResponses >= want {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if pgResponses != want || redisResponses != want {
		t.Errorf("archived responses pg=%d redis=%d, want %d", pgResponses, redisResponses, want)
	}

	// neo4j mirrors the dependency chain
	root := s.Plan.ExecutionOrder[0][0]
	deps, err := be.graph.Dependents(ctx, s.ID, root)
	if err != nil {
		t.Fatalf("dependents: %v", err)
	}
	if len(deps) != want-1 {
		t.Errorf("dependents of %s = %v", root, deps)
	}
}
