package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/handlers"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/orchestrator"
	"github.com/ternarybob/auspex/internal/services/analysis"
	"github.com/ternarybob/auspex/internal/services/events"
	"github.com/ternarybob/auspex/internal/services/llm"
	"github.com/ternarybob/auspex/internal/services/marketdata"
	"github.com/ternarybob/auspex/internal/services/scheduler"
	"github.com/ternarybob/auspex/internal/services/screener"
	"github.com/ternarybob/auspex/internal/services/technical"
	"github.com/ternarybob/auspex/internal/storage/badger"
)

const defaultHeartbeatInterval = 12 * time.Second

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage layer
	DB              *badger.BadgerDB
	TaskStorage     interfaces.TaskStorage
	ResultStorage   interfaces.ResultStorage
	ProgressStorage interfaces.ProgressStorage
	ScheduleStorage interfaces.ScheduleStorage

	// Services
	Broadcaster       interfaces.ProgressBroadcaster
	MarketDataService interfaces.MarketDataService
	TechnicalScorer   interfaces.TechnicalScorer
	ScreenerService   interfaces.ScreenerService
	CompletionRouter  interfaces.CompletionRouter
	Analyzer          interfaces.SymbolAnalyzer
	Orchestrator      interfaces.OrchestratorService
	SchedulerService  *scheduler.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	TaskHandler     *handlers.TaskHandler
	ScheduleHandler *handlers.ScheduleHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("llm_provider", string(cfg.LLM.DefaultProvider)).
		Int("pool_size", cfg.Orchestrator.PoolSize).
		Int("max_running_tasks", cfg.Orchestrator.MaxRunningTasks).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the Badger storage layer
func (a *App) initStorage() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open badger store: %w", err)
	}
	a.DB = db

	a.TaskStorage = badger.NewTaskStorage(db, a.Logger)
	a.ResultStorage = badger.NewResultStorage(db, a.Logger)
	a.ProgressStorage = badger.NewProgressStorage(db, a.Logger)
	a.ScheduleStorage = badger.NewScheduleStorage(db, a.Logger)

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	heartbeat := defaultHeartbeatInterval
	if a.Config.WebSocket.HeartbeatInterval != "" {
		if d, err := time.ParseDuration(a.Config.WebSocket.HeartbeatInterval); err == nil {
			heartbeat = d
		} else {
			a.Logger.Warn().Err(err).Str("heartbeat_interval", a.Config.WebSocket.HeartbeatInterval).Msg("Invalid heartbeat interval, using default")
		}
	}
	a.Broadcaster = events.NewBroadcaster(a.ProgressStorage, heartbeat, a.Logger)

	a.MarketDataService = marketdata.NewService(&a.Config.MarketData, a.Logger)
	a.TechnicalScorer = technical.NewScorer(a.Logger)

	scr, err := screener.NewScreener(&a.Config.Screener, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize screener: %w", err)
	}
	a.ScreenerService = scr

	a.CompletionRouter = llm.NewRouter(&a.Config.Gemini, &a.Config.Claude, &a.Config.LLM, a.Logger)

	a.Analyzer = analysis.NewWorker(
		a.MarketDataService,
		a.TechnicalScorer,
		a.CompletionRouter,
		a.ResultStorage,
		a.Broadcaster,
		&a.Config.Scoring,
		a.Logger,
	)

	a.Orchestrator = orchestrator.NewOrchestrator(
		&a.Config.Orchestrator,
		a.TaskStorage,
		a.ResultStorage,
		a.ProgressStorage,
		a.Broadcaster,
		a.ScreenerService,
		a.Analyzer,
		a.Logger,
	)

	a.SchedulerService = scheduler.NewService(a.ScheduleStorage, a.Orchestrator, a.Logger)
	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.TaskHandler = handlers.NewTaskHandler(a.Orchestrator, a.Broadcaster, a.Logger)
	a.ScheduleHandler = handlers.NewScheduleHandler(a.SchedulerService, a.ScheduleStorage, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Broadcaster, &a.Config.WebSocket, a.Logger)
}

// Close shuts down all components in reverse dependency order.
func (a *App) Close(ctx context.Context) error {
	if a.SchedulerService != nil && a.SchedulerService.IsRunning() {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}

	if a.Orchestrator != nil {
		if err := a.Orchestrator.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Orchestrator shutdown incomplete")
		}
	}

	if a.Broadcaster != nil {
		if err := a.Broadcaster.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Broadcaster close failed")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close badger store: %w", err)
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
