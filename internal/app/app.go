// -----------------------------------------------------------------------
// App - Dependency wiring for the ingestion service
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/codestory/internal/common"
	"github.com/ternarybob/codestory/internal/graph"
	"github.com/ternarybob/codestory/internal/handlers"
	"github.com/ternarybob/codestory/internal/interfaces"
	"github.com/ternarybob/codestory/internal/pipeline"
	"github.com/ternarybob/codestory/internal/services/embeddings"
	"github.com/ternarybob/codestory/internal/services/events"
	jobsvc "github.com/ternarybob/codestory/internal/services/jobs"
	"github.com/ternarybob/codestory/internal/services/llm"
	"github.com/ternarybob/codestory/internal/services/scheduler"
	"github.com/ternarybob/codestory/internal/steps/astextract"
	"github.com/ternarybob/codestory/internal/steps/docgrapher"
	"github.com/ternarybob/codestory/internal/steps/filesystem"
	"github.com/ternarybob/codestory/internal/steps/summarizer"
	badgerstorage "github.com/ternarybob/codestory/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	GraphStore     interfaces.GraphStore
	ProgressBus    interfaces.ProgressBus

	LLMService       interfaces.LLMService
	EmbeddingService interfaces.EmbeddingService

	StepRegistry *pipeline.Registry
	Orchestrator *pipeline.Orchestrator
	JobService   interfaces.JobService

	SchedulerService interfaces.SchedulerService

	// HTTP handlers
	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
	WSHandler  *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Storage layer (BadgerDB: jobs, progress events, step handoff state)
	storageManager, err := badgerstorage.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.StorageManager = storageManager
	logger.Info().
		Str("path", cfg.Storage.Badger.Path).
		Msg("Storage layer initialized")

	// Graph store (Neo4j) with schema bootstrap
	ctx := context.Background()
	graphStore, err := graph.NewStore(ctx, &cfg.Graph, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize graph store: %w", err)
	}
	app.GraphStore = graphStore

	if err := graphStore.InitializeSchema(ctx, false); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}

	// Progress bus backed by persisted events
	app.ProgressBus = events.NewService(
		storageManager.EventStorage(),
		cfg.WebSocket.BufferSize,
		cfg.Pipeline.EventTTLDuration(),
		logger,
	)

	// LLM + embedding adapters
	app.LLMService, err = llm.NewLLMService(cfg, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize LLM service: %w", err)
	}
	app.EmbeddingService = embeddings.NewService(&cfg.Embeddings, logger)

	// Step registry: explicit factory table, one fresh instance per run
	registry := pipeline.NewRegistry(logger)
	for name, factory := range map[string]interfaces.StepFactory{
		filesystem.StepName: filesystem.New,
		astextract.StepName: astextract.New,
		summarizer.StepName: summarizer.Factory(app.LLMService, app.EmbeddingService),
		docgrapher.StepName: docgrapher.Factory(app.EmbeddingService),
	} {
		if err := registry.Register(name, factory); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to register step %s: %w", name, err)
		}
	}
	app.StepRegistry = registry

	// Orchestrator and the job-control surface over it
	app.Orchestrator = pipeline.NewOrchestrator(
		registry,
		storageManager.JobStorage(),
		storageManager.KeyValueStorage(),
		app.ProgressBus,
		graphStore,
		cfg,
		logger,
	)

	if err := app.Orchestrator.FailOrphanedJobs(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to clean up orphaned jobs")
	}

	app.JobService = jobsvc.NewService(
		app.Orchestrator,
		storageManager.JobStorage(),
		app.ProgressBus,
		logger,
	)

	// Scheduler for recurring ingestions
	app.SchedulerService = scheduler.NewService(app.JobService, cfg.Schedules, logger)
	if err := app.SchedulerService.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	// HTTP handlers
	app.APIHandler = handlers.NewAPIHandler(cfg, logger)
	app.JobHandler = handlers.NewJobHandler(app.JobService, logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.JobService, &cfg.WebSocket, logger)

	logger.Info().
		Strs("steps", registry.Names()).
		Str("llm_provider", app.LLMService.Provider()).
		Msg("Application initialization complete")

	return app, nil
}

// Close closes all application resources in reverse dependency order
func (a *App) Close() error {
	// Flush context logs before stopping services
	common.Stop()

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.Orchestrator != nil {
		a.Orchestrator.Shutdown()
		a.Logger.Info().Msg("Orchestrator stopped")
	}

	if a.ProgressBus != nil {
		if err := a.ProgressBus.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close progress bus")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}

	if a.GraphStore != nil {
		if err := a.GraphStore.Close(context.Background()); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close graph store")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
