// Package app provides the main application lifecycle management for the
// reply agent worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/reply-agent/internal/blocklist"
	"github.com/jonesrussell/reply-agent/internal/budget"
	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/database"
	"github.com/jonesrussell/reply-agent/internal/domain"
	"github.com/jonesrussell/reply-agent/internal/generate"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/metrics"
	"github.com/jonesrussell/reply-agent/internal/permit"
	"github.com/jonesrussell/reply-agent/internal/platform"
	"github.com/jonesrussell/reply-agent/internal/queue"
	"github.com/jonesrussell/reply-agent/internal/reconcile"
	agentredis "github.com/jonesrussell/reply-agent/internal/redis"
	"github.com/jonesrussell/reply-agent/internal/scheduler"
	"github.com/jonesrussell/reply-agent/internal/source"
	"github.com/jonesrussell/reply-agent/internal/telemetry"
	"github.com/jonesrussell/reply-agent/internal/template"
	"github.com/jonesrussell/reply-agent/internal/watchdog"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown
	DefaultShutdownTimeout = 30 * time.Second
	// FlushBlocklistTimeout is the timeout for blocklist flush operations
	FlushBlocklistTimeout = 30 * time.Second
)

// App represents the agent worker with all its dependencies
type App struct {
	config      *config.Config
	logger      logger.Logger
	db          *sqlx.DB
	redisClient *goredis.Client

	attribution *database.AttributionRepository

	queue      *queue.Queue
	budget     *budget.Enforcer
	platform   *platform.Client
	metrics    *metrics.Tracker
	telemetry  *telemetry.Telemetry
	blocklist  *blocklist.Tracker
	scheduler  *scheduler.Scheduler
	reconciler *reconcile.Reconciler
	watchdog   *watchdog.Watchdog
	poller     *source.Poller

	httpServer *http.Server
	version    string
	configPath string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates a new App instance with all dependencies initialized
func New(opts Options) (*App, error) {
	cfg, appLogger, err := loadConfigAndLogger(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	appLogger = appLogger.With(
		logger.String("service", "reply-agent"),
		logger.String("version", opts.Version),
	)

	db, err := database.NewPostgresConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// Redis is shared between the slot counters and the blocklist
	redisClient, err := agentredis.NewClient(cfg.Redis, appLogger)
	if err != nil {
		db.Close()
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	app, err := build(cfg, appLogger, db, redisClient)
	if err != nil {
		redisClient.Close()
		db.Close()
		_ = appLogger.Sync()
		return nil, err
	}
	app.version = opts.Version
	app.configPath = opts.ConfigPath
	return app, nil
}

// build assembles the object graph on top of the established connections
func build(cfg *config.Config, appLogger logger.Logger, db *sqlx.DB, redisClient *goredis.Client) (*App, error) {
	candidateRepo := database.NewCandidateRepository(db)
	decisionRepo := database.NewDecisionRepository(db)
	permitRepo := database.NewPermitRepository(db)
	slotRepo := database.NewSlotEventRepository(db)
	publishedRepo := database.NewPublishedRecordRepository(db)
	attributionRepo := database.NewAttributionRepository(db)

	enforcer := budget.NewEnforcer(budget.NewPostgresLedger(db), budget.Config{
		Period:         cfg.Budget.Period,
		PeriodLimit:    cfg.Budget.PeriodLimit,
		CostPerPost:    cfg.Budget.CostPerPost,
		TightThreshold: cfg.Budget.TightThreshold,
	}, appLogger)

	candidateQueue := queue.NewQueue(candidateRepo, decisionRepo, cfg.Queue, appLogger)
	permits := permit.NewManager(permitRepo, appLogger)
	selector := template.NewSelector(cfg.Templates, attributionRepo, nil, appLogger)

	generator, err := generate.NewClient(cfg.Generator, appLogger)
	if err != nil {
		return nil, fmt.Errorf("create generator client: %w", err)
	}
	platformClient, err := platform.NewClient(cfg.Platform, appLogger)
	if err != nil {
		return nil, fmt.Errorf("create platform client: %w", err)
	}

	metricsTracker := metrics.NewTracker(redisClient, appLogger)
	tel := telemetry.New()
	tracker := newSlotTracker(metricsTracker, tel, decisionRepo, appLogger)

	sched := scheduler.New(
		candidateQueue, decisionRepo, slotRepo, enforcer,
		selector, generator, platformClient, permits,
		tracker, cfg.Agent, appLogger,
	)

	reconciler := reconcile.New(platformClient, decisionRepo, publishedRepo, cfg.Agent, appLogger)
	wd := watchdog.New(decisionRepo, cfg.Agent.WatchdogInterval, cfg.Agent.WatchdogTimeout, appLogger)

	blocked := blocklist.NewTracker(redisClient, cfg.Agent.BlocklistTTL, appLogger)
	feeds := []source.Feed{
		source.NewKeywordFeed(platformClient, cfg.Feeds.Keywords, cfg.Feeds.FetchLimit),
		source.NewCuratedFeed(platformClient, cfg.Feeds.CuratedAccounts, cfg.Feeds.FetchLimit),
	}
	poller := source.NewPoller(feeds, candidateQueue, blocked, cfg.Agent.PollInterval, appLogger)

	return &App{
		config:      cfg,
		logger:      appLogger,
		db:          db,
		redisClient: redisClient,
		attribution: attributionRepo,
		queue:       candidateQueue,
		budget:      enforcer,
		platform:    platformClient,
		metrics:     metricsTracker,
		telemetry:   tel,
		blocklist:   blocked,
		scheduler:   sched,
		reconciler:  reconciler,
		watchdog:    wd,
		poller:      poller,
	}, nil
}

// loadConfigAndLogger loads configuration and creates the logger
func loadConfigAndLogger(configPath string) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	return cfg, appLogger, nil
}

// Run starts the worker loops and blocks until shutdown. The agent exposes
// Prometheus metrics and a liveness endpoint on the configured server address;
// the ops API is a separate command.
func (a *App) Run(ctx context.Context) error {
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	serverErr := make(chan error, 1)
	a.startMetricsServer(serverErr)

	slotCron := cron.New()
	if _, err := slotCron.AddFunc(a.config.Agent.SlotSchedule, func() {
		a.runTick(workerCtx)
	}); err != nil {
		return fmt.Errorf("register slot schedule %q: %w", a.config.Agent.SlotSchedule, err)
	}

	a.logger.Info("Starting reply agent",
		logger.String("config_path", a.configPath),
		logger.String("slot_schedule", a.config.Agent.SlotSchedule),
		logger.Bool("debug", a.config.Debug),
	)

	slotCron.Start()
	a.poller.Start(workerCtx)
	a.watchdog.Start(workerCtx)
	go a.maintenanceLoop(workerCtx)

	err := a.waitForShutdown(serverErr)

	cronCtx := slotCron.Stop()
	a.poller.Stop()
	a.watchdog.Stop()
	workerCancel()

	// Let an in-flight tick finish rather than abandoning a publish midway
	select {
	case <-cronCtx.Done():
	case <-time.After(DefaultShutdownTimeout):
		a.logger.Warn("Timed out waiting for in-flight slot tick")
	}

	a.shutdownHTTPServer()
	a.logger.Info("Service stopped")
	return err
}

// startMetricsServer serves /metrics and /healthz for the worker process
func (a *App) startMetricsServer(serverErr chan<- error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.telemetry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	a.httpServer = &http.Server{
		Addr:         a.config.Server.Address,
		Handler:      mux,
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
	}

	go func() {
		a.logger.Info("Metrics server listening", logger.String("address", a.config.Server.Address))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
}

// runTick executes one scheduling slot
func (a *App) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := a.scheduler.Tick(ctx, time.Now().UTC()); err != nil {
		a.logger.Error("Slot tick failed", logger.Error(err))
	}
}

// maintenanceLoop runs the reconciliation sweep, queue expiry, engagement
// attribution refresh and gauge updates on the reconcile interval
func (a *App) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.Agent.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runMaintenance(ctx)
		}
	}
}

func (a *App) runMaintenance(ctx context.Context) {
	if stats, err := a.reconciler.Sweep(ctx); err != nil {
		a.logger.Error("Reconciliation sweep failed", logger.Error(err))
	} else {
		a.telemetry.AddGhosts(stats.Ghosts)
		a.telemetry.AddZombies(stats.ZombiesResolved + stats.ZombiesFailed)
	}

	if _, err := a.queue.SweepExpired(ctx); err != nil {
		a.logger.Error("Queue expiry sweep failed", logger.Error(err))
	}

	a.refreshAttribution(ctx)
	a.refreshGauges(ctx)
}

// refreshAttribution pulls engagement reports for recently published replies
// and folds them into the attribution table that drives template selection
func (a *App) refreshAttribution(ctx context.Context) {
	posts, err := a.metrics.GetRecentPosts(ctx, metrics.MaxRecentPosts)
	if err != nil {
		a.logger.Warn("Failed to list recent posts for attribution", logger.Error(err))
		return
	}

	for i := range posts {
		post := &posts[i]
		decisionID, parseErr := uuid.Parse(post.DecisionID)
		if parseErr != nil {
			continue
		}

		engagement, engErr := a.platform.GetEngagement(ctx, post.PublishedID)
		if engErr != nil {
			a.logger.Debug("Engagement unavailable",
				logger.String("published_id", post.PublishedID),
				logger.Error(engErr),
			)
			continue
		}

		attr := &domain.PostAttribution{
			PublishedID:     post.PublishedID,
			DecisionID:      decisionID,
			TemplateID:      post.TemplateID,
			EngagementRate:  engagement.EngagementRate,
			Impressions:     engagement.Impressions,
			FollowersGained: engagement.FollowersGained,
			PostedAt:        post.PostedAt,
		}
		if upsertErr := a.attribution.Upsert(ctx, attr); upsertErr != nil {
			a.logger.Warn("Failed to record attribution",
				logger.String("published_id", post.PublishedID),
				logger.Error(upsertErr),
			)
		}
	}
}

func (a *App) refreshGauges(ctx context.Context) {
	if stats, err := a.queue.Stats(ctx); err == nil {
		a.telemetry.SetQueueDepth(stats.Queued)
	}
	if remaining, err := a.budget.Remaining(ctx); err == nil {
		a.telemetry.SetBudgetRemaining(remaining)
	}
}

// waitForShutdown blocks until a signal, server error or context cancellation
func (a *App) waitForShutdown(serverErr chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully",
			logger.String("signal", sig.String()),
		)
		return nil
	case err := <-serverErr:
		a.logger.Error("Metrics server error", logger.Error(err))
		return err
	}
}

// shutdownHTTPServer gracefully shuts down the HTTP server
func (a *App) shutdownHTTPServer() {
	if a.httpServer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
	} else {
		a.logger.Info("Metrics server stopped")
	}
}

// FlushBlocklist clears the Redis target blocklist
func (a *App) FlushBlocklist(ctx context.Context) error {
	return a.blocklist.FlushAll(ctx)
}

// Close cleans up resources
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Logger returns the application logger
func (a *App) Logger() logger.Logger {
	return a.logger
}
