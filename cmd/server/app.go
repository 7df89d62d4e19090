package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/scry-exam/internal/auth"
	"github.com/phrazzld/scry-exam/internal/config"
	"github.com/phrazzld/scry-exam/internal/exam"
	"github.com/phrazzld/scry-exam/internal/gateway"
	"github.com/phrazzld/scry-exam/internal/generation"
	"github.com/phrazzld/scry-exam/internal/grading"
	"github.com/phrazzld/scry-exam/internal/notify"
	"github.com/phrazzld/scry-exam/internal/platform/gemini"
	"github.com/phrazzld/scry-exam/internal/platform/memory"
	"github.com/phrazzld/scry-exam/internal/platform/openai"
	"github.com/phrazzld/scry-exam/internal/platform/sqlstore"
	"github.com/phrazzld/scry-exam/internal/platform/workflow"
	"github.com/phrazzld/scry-exam/internal/store"
	"github.com/phrazzld/scry-exam/internal/task"
)

const driverMemory = "memory"

// Session buffer for the notification hub.
const hubBuffer = 16

// application holds the shared dependencies and owns their shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db       *sql.DB
	store    store.Store
	ledger   *task.Ledger
	gateway  gateway.Gateway
	hub      *notify.Hub
	redis    *notify.RedisNotifier
	notifier notify.Notifier
	tokens   *auth.TokenService

	generator *generation.Orchestrator
	grader    *grading.Orchestrator
	exams     *exam.Service

	taskRunner *task.TaskRunner
	sweeper    *task.Sweeper
}

// newApplication wires every component from cfg. Background workers are not
// started until Run.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	var err error
	if err = app.openStore(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	app.tokens, err = auth.NewTokenService(cfg.Auth)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	app.gateway, err = newGateway(cfg.AI, logger)
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to initialize AI gateway: %w", err)
	}
	logger.Info("AI gateway initialized", "provider", cfg.AI.Provider)

	if err = app.setupNotifier(ctx); err != nil {
		app.cleanup()
		return nil, err
	}

	if err = app.setupPipeline(); err != nil {
		app.cleanup()
		return nil, err
	}

	logger.Info("application initialized")
	return app, nil
}

func (app *application) openStore(ctx context.Context) error {
	cfg := app.config.Database
	if cfg.Driver == driverMemory {
		app.store = memory.New()
		app.logger.Warn("using in-memory store, data is lost on restart")
		return nil
	}

	driver := sqlstore.Driver(cfg.Driver)
	db, err := sqlstore.Open(ctx, driver, cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	app.db = db

	if cfg.AutoMigrate {
		if err := sqlstore.Migrate(ctx, db, driver, "up", app.logger); err != nil {
			return err
		}
	}
	app.store = sqlstore.New(db, driver, app.logger)
	app.logger.Info("database connection established", "driver", cfg.Driver)
	return nil
}

// newGateway builds the configured provider behind the shared rate limiter.
func newGateway(cfg config.AIConfig, logger *slog.Logger) (gateway.Gateway, error) {
	var (
		next gateway.Gateway
		err  error
	)
	switch cfg.Provider {
	case "workflow":
		next, err = workflow.NewClient(cfg.BaseURL, &http.Client{}, logger)
	case "gemini":
		next, err = gemini.NewGateway(gemini.Config{Model: cfg.Model}, logger)
	case "openai":
		next = openai.NewGateway(cfg.BaseURL, cfg.Model, logger)
	default:
		err = fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return gateway.NewThrottled(next, cfg.RatePerSecond, cfg.Burst, cfg.RequestTimeout, logger), nil
}

func (app *application) setupNotifier(ctx context.Context) error {
	app.hub = notify.NewHub(hubBuffer, app.logger)
	sinks := notify.Multi{notify.NewLogNotifier(app.logger), app.hub}

	if url := app.config.Notify.RedisURL; url != "" {
		rn, err := notify.NewRedisNotifier(url, app.config.Notify.ChannelPrefix)
		if err != nil {
			return fmt.Errorf("failed to initialize redis notifier: %w", err)
		}
		if err := rn.Ping(ctx); err != nil {
			_ = rn.Close()
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		app.redis = rn
		sinks = append(sinks, rn)
		app.logger.Info("redis notifications enabled")
	}

	app.notifier = sinks
	return nil
}

func (app *application) setupPipeline() error {
	cfg := app.config

	var err error
	app.ledger, err = task.NewLedger(app.store, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create task ledger: %w", err)
	}

	app.taskRunner = task.NewTaskRunner(task.TaskRunnerConfig{
		WorkerCount:    cfg.Task.WorkerCount,
		QueueSize:      cfg.Task.QueueSize,
		OverflowPolicy: task.OverflowPolicy(cfg.Task.OverflowPolicy),
	}, app.logger)

	app.generator, err = generation.NewOrchestrator(
		app.store,
		app.gateway,
		cfg.AI.Keys,
		app.ledger,
		app.taskRunner,
		app.notifier,
		generation.Config{
			BatchSize:              cfg.Generation.BatchSize,
			MaxConsecutiveFailures: cfg.Generation.MaxConsecutiveFailures,
			PacingDelay:            cfg.Generation.PacingDelay,
			KnowledgeDatasetID:     cfg.AI.KnowledgeDatasetID,
		},
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create generation orchestrator: %w", err)
	}

	gradingCfg := grading.DefaultConfig()
	gradingCfg.MistakeThreshold = cfg.Grading.MistakeThreshold
	gradingCfg.RetryAge = cfg.Task.GradingRetryAge
	app.grader, err = grading.NewOrchestrator(
		app.store,
		app.gateway,
		cfg.AI.Keys,
		app.ledger,
		app.taskRunner,
		app.notifier,
		gradingCfg,
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create grading orchestrator: %w", err)
	}

	examCfg := exam.DefaultConfig()
	examCfg.DefaultMaxAttempts = cfg.Exam.DefaultMaxAttempts
	examCfg.SubmitGrace = cfg.Exam.SubmitGrace
	examCfg.MistakeThreshold = cfg.Grading.MistakeThreshold
	app.exams, err = exam.NewService(app.store, app.grader, app.notifier, examCfg, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create exam service: %w", err)
	}

	app.taskRunner.AddRecoverer(app.generator)
	app.taskRunner.AddRecoverer(app.grader)

	app.sweeper = task.NewSweeper(cfg.Task.SweepInterval, app.logger)
	app.sweeper.Add("expire_overdue_attempts", app.exams.ExpireOverdue)
	app.sweeper.Add("retry_ungraded_attempts", app.grader.RetryUngraded)
	return nil
}

// cleanup releases resources that outlive the workers. Run stops the workers
// before returning.
func (app *application) cleanup() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
