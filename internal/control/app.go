// Package control is the composition root: it wires every subsystem from
// configuration and supervises their lifecycles.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trungvv/ripcord/internal/classify"
	"github.com/trungvv/ripcord/internal/core/config"
	"github.com/trungvv/ripcord/internal/core/domain"
	"github.com/trungvv/ripcord/internal/download"
	"github.com/trungvv/ripcord/internal/extract"
	"github.com/trungvv/ripcord/internal/health"
	redisclient "github.com/trungvv/ripcord/internal/infra/redis"
	"github.com/trungvv/ripcord/internal/infra/storage"
	"github.com/trungvv/ripcord/internal/infra/storage/memory"
	"github.com/trungvv/ripcord/internal/infra/storage/postgres"
	"github.com/trungvv/ripcord/internal/metrics"
	"github.com/trungvv/ripcord/internal/queue"
	"github.com/trungvv/ripcord/internal/retry"
	"github.com/trungvv/ripcord/internal/rotation"
)

// Options carry optional collaborators a caller may inject. Zero value is
// fine; everything is then built from configuration.
type Options struct {
	Logger *slog.Logger

	// Solver overrides the config-driven solver construction, used when the
	// challenge service speaks a custom protocol.
	Solver extract.Solver
}

// App owns every subsystem of a running instance.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	agg      *metrics.Aggregator
	engine   *retry.Engine
	pools    *rotation.Manager
	orch     *queue.Orchestrator
	bus      *queue.EventBus
	monitor  *health.Monitor
	recovery *health.RecoveryManager
	server   *health.Server

	redis *redisclient.Client
	db    *postgres.DB
}

// NewApp wires all subsystems. Nothing runs until Run.
func NewApp(cfg *config.AppConfig, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	agg := metrics.New()
	classifier := classify.New()

	policy := retry.DefaultPolicy()
	for category, timing := range cfg.Retry.Schedules {
		policy.PerCategory[classify.Category(category)] = retry.Timing{
			Base:       timing.Base,
			Multiplier: timing.Multiplier,
			Cap:        timing.Cap,
		}
	}
	engine := retry.NewEngine(classifier, policy, agg, log)

	poolCfg := rotation.Config{
		FailureThreshold:     cfg.Pools.FailureThreshold,
		FailureRateThreshold: cfg.Pools.FailureRateThreshold,
		StaleAfter:           cfg.Pools.StaleAfter,
		MaintenanceInterval:  cfg.Pools.MaintenanceInterval,
	}
	pools := rotation.NewManager(
		rotation.NewPool(domain.KindProxy, cfg.Pools.Proxies, poolCfg, proxyRevalidator(), agg, log),
		rotation.NewPool(domain.KindSession, cfg.Pools.Sessions, poolCfg, sessionRevalidator(), agg, log),
		rotation.NewPool(domain.KindIdentity, cfg.Pools.Identities, poolCfg, nil, agg, log),
	)

	app := &App{cfg: cfg, log: log, agg: agg, engine: engine, pools: pools}

	archive, recoveryLog, err := app.buildStorage()
	if err != nil {
		return nil, err
	}

	extractor := extract.NewCommandExtractor(extract.CommandConfig{
		Binary:       cfg.Extractor.Binary,
		OutputDir:    cfg.Extractor.OutputDir,
		ExtraArgs:    cfg.Extractor.ExtraArgs,
		StallTimeout: cfg.Extractor.StallTimeout,
	}, log)

	solver := opts.Solver
	if solver == nil {
		solver = buildSolver(cfg.Solver, log)
	}

	runner := download.NewRunner(download.Config{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		FormatFallbacks: cfg.Extractor.FormatFallbacks,
	}, engine, pools, extractor, solver, classifier, log)

	app.bus = queue.NewEventBus(cfg.Queue.EventBuffer, agg)
	app.orch = queue.New(queue.Config{Concurrency: cfg.Queue.Concurrency}, runner, archive, app.bus, agg, log)

	app.recovery = health.NewRecoveryManager(recoveryLog, agg, log)
	app.registerRecoveryChains()

	app.monitor = health.NewMonitor(cfg.Health.Interval, app.recovery, log,
		health.PoolChecker(pools),
		health.QueueChecker(app.orch, cfg.Health.QueueWarnDepth, cfg.Health.QueueCritDepth),
		health.RetryChecker(engine, agg),
		health.SystemChecker(cfg.Extractor.OutputDir),
	)

	app.server = health.NewServer(
		fmt.Sprintf(":%d", cfg.Server.Port),
		app.monitor, app.recovery, app.orch, pools, archive, agg, log,
	)

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		app.redis = client
	}

	return app, nil
}

func (a *App) buildStorage() (storage.TaskArchive, storage.RecoveryLog, error) {
	if a.cfg.Database.URL == "" {
		return memory.NewTaskArchive(a.cfg.Queue.ArchiveLimit), memory.NewRecoveryLog(a.cfg.Queue.ArchiveLimit), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db, err := postgres.NewDB(ctx, a.cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	if err := db.Migrate("migrations"); err != nil {
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	a.db = db
	return postgres.NewTaskArchive(db), postgres.NewRecoveryLog(db), nil
}

// buildSolver selects the challenge-solver protocol by endpoint scheme.
func buildSolver(cfg config.SolverConfig, log *slog.Logger) extract.Solver {
	if cfg.Endpoint == "" {
		return nil
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		log.Warn("invalid solver endpoint, challenge solving disabled", "endpoint", cfg.Endpoint, "error", err)
		return nil
	}
	switch u.Scheme {
	case "http", "https":
		return extract.NewHTTPSolver(cfg.Endpoint, cfg.APIKey)
	default:
		log.Warn("unsupported solver scheme, inject a Solver via Options", "scheme", u.Scheme)
		return nil
	}
}

// registerRecoveryChains installs the issue-to-action mapping. Chains run
// their steps in order and stop at the first success; the restart valve is
// always the last resort.
func (a *App) registerRecoveryChains() {
	sweepAll := func(ctx context.Context) error {
		a.pools.SweepAll(ctx, a.log)
		return nil
	}

	a.recovery.Register(health.IssueProxyFailures,
		health.Action{Name: "sweep_proxies", Run: func(ctx context.Context) error {
			a.pools.Pool(domain.KindProxy).Sweep(ctx)
			return nil
		}},
		health.RestartAction("pools"),
	)

	a.recovery.Register(health.IssueSessionExpiry,
		health.Action{Name: "revalidate_sessions", Run: func(ctx context.Context) error {
			pool := a.pools.Pool(domain.KindSession)
			var lastErr error
			for _, res := range pool.Resources() {
				if err := pool.Revalidate(ctx, res.ID); err != nil {
					lastErr = err
				}
			}
			return lastErr
		}},
		health.RestartAction("pools"),
	)

	a.recovery.Register(health.IssueResourceExhaustion,
		health.Action{Name: "sweep_all_pools", Run: sweepAll},
		health.RestartAction("app"),
	)

	a.recovery.Register(health.IssueHighFailureRate,
		health.Action{Name: "reset_retry_state", Run: func(ctx context.Context) error {
			a.engine.ResetPatterns()
			a.pools.SweepAll(ctx, a.log)
			return nil
		}},
		health.RestartAction("app"),
	)

	a.recovery.Register(health.IssueQueueBacklog,
		health.Action{Name: "sweep_all_pools", Run: sweepAll},
	)
}

// Run starts every subsystem and blocks until ctx cancels or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.orch.Run(ctx)
		return nil
	})
	g.Go(func() error {
		a.pools.RunMaintenance(ctx)
		return nil
	})
	g.Go(func() error {
		a.monitor.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.redis != nil {
		publisher := redisclient.NewEventPublisher(a.redis, a.log)
		events := a.bus.Subscribe()
		g.Go(func() error {
			publisher.Run(ctx, events)
			return nil
		})
	}

	a.log.Info("ripcord running",
		"port", a.cfg.Server.Port,
		"concurrency", a.cfg.Queue.Concurrency,
		"proxies", len(a.cfg.Pools.Proxies),
		"sessions", len(a.cfg.Pools.Sessions))

	err := g.Wait()
	a.close()
	return err
}

// RestartRequests exposes the recovery manager's restart valve to the
// process supervisor.
func (a *App) RestartRequests() <-chan string {
	return a.recovery.RestartRequests()
}

func (a *App) close() {
	a.bus.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis close failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("database close failed", "error", err)
		}
	}
}
