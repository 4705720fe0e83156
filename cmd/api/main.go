// Package main is the entry point for the reply agent ops API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jonesrussell/reply-agent/internal/api"
	"github.com/jonesrussell/reply-agent/internal/budget"
	"github.com/jonesrussell/reply-agent/internal/config"
	"github.com/jonesrussell/reply-agent/internal/database"
	"github.com/jonesrussell/reply-agent/internal/logger"
	"github.com/jonesrussell/reply-agent/internal/metrics"
	"github.com/jonesrussell/reply-agent/internal/permit"
	agentredis "github.com/jonesrussell/reply-agent/internal/redis"
)

const (
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yml", "Path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	db, err := database.NewPostgresConnection(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close(db)

	redisClient, err := agentredis.NewClient(cfg.Redis, log)
	if err != nil {
		return fmt.Errorf("connect to Redis: %w", err)
	}
	defer redisClient.Close()

	decisionRepo := database.NewDecisionRepository(db)
	enforcer := budget.NewEnforcer(budget.NewPostgresLedger(db), budget.Config{
		Period:         cfg.Budget.Period,
		PeriodLimit:    cfg.Budget.PeriodLimit,
		CostPerPost:    cfg.Budget.CostPerPost,
		TightThreshold: cfg.Budget.TightThreshold,
	}, log)

	router := api.NewRouter(
		decisionRepo,
		database.NewOverrideRepository(db),
		permit.NewManager(database.NewPermitRepository(db), log),
		database.NewSlotEventRepository(db),
		database.NewCandidateRepository(db),
		metrics.NewTracker(redisClient, log),
		enforcer,
		db,
		redisClient,
		cfg,
		log,
	)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting ops API server", logger.String("address", cfg.Server.Address))
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			serverErr <- srvErr
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutting down server", logger.String("signal", sig.String()))
	case srvErr := <-serverErr:
		return fmt.Errorf("server error: %w", srvErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
		return err
	}

	log.Info("Server exited")
	return nil
}
