package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magnushaga/ankicardgenerator-sub000/internal/api"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/config"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/db"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/jobs"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/logger"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository/memory"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository/postgres"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/repository/sqlite"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/scheduler"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/services"
	"github.com/magnushaga/ankicardgenerator-sub000/internal/worker"
)

// backend bundles the repositories of one store driver.
type backend struct {
	catalog   repository.CardCatalog
	schedules repository.ScheduleRepository
	sessions  repository.SessionRepository
	pinger    api.Pinger
	close     func()
}

type sqlPinger struct{ db *db.DB }

func (p sqlPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return &backend{
			catalog:   sqlite.NewCardCatalog(database.DB),
			schedules: sqlite.NewScheduleRepository(database.DB),
			sessions:  sqlite.NewSessionRepository(database.DB),
			pinger:    sqlPinger{db: database},
			close:     func() { database.Close() },
		}, nil
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN, cfg.DatabaseMaxConns)
		if err != nil {
			return nil, err
		}
		return &backend{
			catalog:   postgres.NewCardCatalog(pool),
			schedules: postgres.NewScheduleRepository(pool),
			sessions:  postgres.NewSessionRepository(pool),
			pinger:    pool,
			close:     pool.Close,
		}, nil
	case config.DriverMemory:
		mem := memory.NewDB()
		return &backend{
			catalog:   memory.NewCardCatalog(mem),
			schedules: memory.NewScheduleRepository(mem),
			sessions:  memory.NewSessionRepository(mem),
			close:     func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func main() {
	cfg := config.Load()

	// Initialize logger
	log := logger.New(
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithColors(true),
	)
	logger.SetDefault(log)

	log.Info("===========================================")
	log.Info("Review Scheduler Starting")
	log.Info("===========================================")

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration: %v", err)
		os.Exit(1)
	}
	log.Info("configuration loaded")
	log.Debug("addr=%s", cfg.Addr)
	log.Debug("store_driver=%s", cfg.StoreDriver)
	log.Debug("db_path=%s", cfg.DBPath)
	log.Debug("database_max_conns=%d", cfg.DatabaseMaxConns)
	log.Debug("log_level=%s", cfg.LogLevel)
	log.Debug("concurrency_mode=%s", cfg.ConcurrencyMode)
	log.Debug("max_commit_attempts=%d", cfg.MaxCommitAttempts)
	log.Debug("due_default_limit=%d", cfg.DueDefaultLimit)
	log.Debug("session_idle_timeout=%v", cfg.SessionIdleTimeout)
	log.Debug("session_sweep_interval=%v", cfg.SessionSweepInterval)
	log.Debug("sweep_worker_count=%d", cfg.SweepWorkerCount)
	log.Debug("sweep_queue_size=%d", cfg.SweepQueueSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open store
	be, err := openBackend(ctx, cfg)
	if err != nil {
		log.Error("failed to open %s store: %v", cfg.StoreDriver, err)
		os.Exit(1)
	}
	defer func() {
		log.Debug("closing store")
		be.close()
	}()

	store := scheduler.NewStore(be.catalog, be.schedules, scheduler.Options{
		Mode:        scheduler.Mode(cfg.ConcurrencyMode),
		MaxAttempts: cfg.MaxCommitAttempts,
	})

	// Initialize services
	schedulerService := services.NewSchedulerService(store, be.catalog, be.schedules, be.sessions, services.SchedulerOptions{
		DueDefaultLimit: cfg.DueDefaultLimit,
	})
	deckService := services.NewDeckService(be.catalog)

	srv := &api.Server{
		SchedulerService: schedulerService,
		DeckService:      deckService,
		Store:            be.pinger,
		RequestTimeout:   10 * time.Second,
	}

	// Initialize worker pool
	sweepPool := worker.NewPool(cfg.SweepWorkerCount, cfg.SweepQueueSize)
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	sweepPool.Start(workerCtx)
	queue := jobs.NewWorkerQueue(sweepPool, be.sessions, cfg.SessionIdleTimeout)

	// Configure HTTP server
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		jobs.RunSessionSweeper(gctx, queue, cfg.SessionSweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("initiating graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		log.Debug("shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error: %v", err)
		}
		return nil
	})

	runErr := g.Wait()

	// Wait for workers to finish
	log.Debug("stopping sweep pool")
	cancelWorkers()
	sweepPool.Stop()

	if runErr != nil {
		log.Error("server stopped with error: %v", runErr)
	}

	log.Info("===========================================")
	log.Info("Review Scheduler Stopped")
	log.Info("===========================================")
}
