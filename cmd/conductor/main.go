package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-conductor/internal/api"
	"github.com/nidhogg/nuka-conductor/internal/bus"
	"github.com/nidhogg/nuka-conductor/internal/capability"
	"github.com/nidhogg/nuka-conductor/internal/config"
	"github.com/nidhogg/nuka-conductor/internal/graphstore"
	"github.com/nidhogg/nuka-conductor/internal/intent"
	"github.com/nidhogg/nuka-conductor/internal/mcp"
	"github.com/nidhogg/nuka-conductor/internal/metrics"
	"github.com/nidhogg/nuka-conductor/internal/orchestrator"
	"github.com/nidhogg/nuka-conductor/internal/plan"
	"github.com/nidhogg/nuka-conductor/internal/selector"
	pgstore "github.com/nidhogg/nuka-conductor/internal/store"
	"github.com/nidhogg/nuka-conductor/internal/tool"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/conductor.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Starting conductor...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Agent catalog
	catalog := capability.DefaultCatalog()
	if cfg.CatalogPath != "" {
		catalog, err = capability.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			logger.Fatal("failed to load catalog", zap.String("path", cfg.CatalogPath), zap.Error(err))
		}
	}
	logger.Info("Catalog loaded", zap.Int("agents", len(catalog.Profiles())))

	promReg, m := metrics.NewRegistry()

	// Message bus
	msgBus := bus.New(bus.Config{
		TickInterval:   cfg.Bus.TickInterval.D(),
		BatchSize:      cfg.Bus.BatchSize,
		DefaultTimeout: cfg.Bus.DefaultTimeout.D(),
	}, logger)
	msgBus.SetMetrics(m)

	// Tools: builtins first, then anything discovered on MCP servers
	limiter := tool.NewRateLimiter(cfg.Tools.RateLimit.MaxCalls, cfg.Tools.RateLimit.Window.D())
	tools := tool.NewRegistry(limiter, logger)
	tools.SetMetrics(m)
	tool.RegisterBuiltins(tools)

	var mcpClients []*mcp.Client
	var remotes []tool.RemoteCaller
	for _, sc := range cfg.MCP.Servers {
		client := mcp.NewClient(sc.Name, sc.URL, logger)
		client.SetTimeout(sc.Timeout.D())
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := client.Connect(connCtx)
		cancel()
		if err != nil {
			logger.Warn("MCP server unavailable", zap.String("name", sc.Name), zap.Error(err))
			continue
		}
		mcpClients = append(mcpClients, client)
		remotes = append(remotes, client)
	}
	if n := tool.RegisterRemote(tools, remotes); n > 0 {
		logger.Info("Remote tools registered", zap.Int("count", n))
	}

	// Optional backends
	var archivers bus.Archivers
	var persister orchestrator.Persister

	var pg *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.MigrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pg = ps
			persister = ps
			archivers = append(archivers, ps)
			logger.Info("PostgreSQL connected")
		}
	}

	var redisArch *bus.RedisArchiver
	if cfg.Database.Redis.URL != "" {
		ra, rErr := bus.NewRedisArchiver(cfg.Database.Redis.URL, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without stream mirror", zap.Error(rErr))
		} else {
			ra.SetMaxLen(cfg.Database.Redis.StreamMaxLen)
			redisArch = ra
			archivers = append(archivers, ra)
			logger.Info("Redis connected")
		}
	}
	if len(archivers) > 0 {
		msgBus.SetArchiver(archivers)
	}

	var graph *graphstore.Store
	var exporter orchestrator.GraphExporter
	if cfg.Database.Neo4j.URI != "" {
		gs, gErr := graphstore.New(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr == nil {
			gErr = gs.Ping(ctx)
		}
		if gErr == nil {
			gErr = gs.EnsureSchema(ctx)
		}
		if gErr != nil {
			logger.Warn("Neo4j unavailable, running without plan graphs", zap.Error(gErr))
			if gs != nil {
				gs.Close(context.Background())
			}
		} else {
			graph = gs
			exporter = gs
			logger.Info("Neo4j connected")
		}
	}

	// Pipeline
	decomposer := plan.NewDecomposer(logger)
	if cfg.Orchestrator.MaxRetries != nil {
		decomposer.SetMaxRetries(*cfg.Orchestrator.MaxRetries)
	}
	analyzer := intent.NewAnalyzer(catalog, logger)
	sel := selector.New(catalog, logger)
	orch := orchestrator.New(orchestrator.Deps{
		Analyzer:   analyzer,
		Decomposer: decomposer,
		Selector:   sel,
		Bus:        msgBus,
		Persister:  persister,
		Exporter:   exporter,
		Metrics:    m,
	}, orchestrator.Config{
		Name:        cfg.Orchestrator.Name,
		TaskTimeout: cfg.Orchestrator.TaskTimeout.D(),
	}, logger)

	if n, rErr := orch.Restore(ctx); rErr != nil {
		logger.Warn("session restore failed", zap.Error(rErr))
	} else if n > 0 {
		logger.Info("Sessions restored", zap.Int("count", n))
	}

	workers := orchestrator.StartWorkers(catalog, msgBus, tools, orch.Name(), logger)
	msgBus.Start(ctx)

	if keep := cfg.Bus.HistoryRetention.D(); keep > 0 {
		go pruneHistory(ctx, msgBus, keep, logger)
	}

	handler := api.NewHandler(ctx, api.Deps{
		Orchestrator: orch,
		Analyzer:     analyzer,
		Selector:     sel,
		Bus:          msgBus,
		Tools:        tools,
		Metrics:      metrics.HandlerFor(promReg),
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Conductor listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down conductor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	for _, w := range workers {
		w.Stop()
	}
	orch.Close()
	msgBus.Stop()
	for _, mc := range mcpClients {
		mc.Close()
	}
	if redisArch != nil {
		redisArch.Close()
	}
	if graph != nil {
		graph.Close(shutdownCtx)
	}
	if pg != nil {
		pg.Close()
	}
}

func pruneHistory(ctx context.Context, b *bus.Bus, keep time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(keep / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Prune(keep); n > 0 {
				logger.Debug("bus history pruned", zap.Int("removed", n))
			}
		}
	}
}
