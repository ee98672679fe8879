package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/handlers"
	"github.com/ternarybob/xhspub/internal/httpclient"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/ternarybob/xhspub/internal/queue"
	"github.com/ternarybob/xhspub/internal/services/auth"
	"github.com/ternarybob/xhspub/internal/services/browser"
	"github.com/ternarybob/xhspub/internal/services/events"
	"github.com/ternarybob/xhspub/internal/services/publisher"
	"github.com/ternarybob/xhspub/internal/services/scheduler"
	"github.com/ternarybob/xhspub/internal/services/selectors"
	"github.com/ternarybob/xhspub/internal/services/staging"
	"github.com/ternarybob/xhspub/internal/services/status"
	"github.com/ternarybob/xhspub/internal/storage"
)

const (
	jobPruneHistory = "prune_history"
	jobPruneStaging = "prune_staging"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Core services
	EventService     interfaces.EventService
	StatusService    interfaces.StatusService
	StorageManager   interfaces.StorageManager
	SessionStore     *auth.FileSessionStore
	LoginCoordinator *auth.LoginCoordinator
	Selectors        *selectors.Registry
	Browser          *browser.Controller
	Authenticator    *browser.Authenticator
	Publisher        *publisher.Service
	Stager           *staging.Service
	Queue            *queue.Service
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	PublishHandler   *handlers.PublishHandler
	QueueHandler     *handlers.QueueHandler
	TaskHandler      *handlers.TaskHandler
	SessionHandler   *handlers.SessionHandler
	SchedulerHandler *handlers.SchedulerHandler
	WSHandler        *handlers.WebSocketHandler
	MCPHandler       *handlers.MCPHandler

	ctx       context.Context
	cancelCtx context.CancelFunc
}

// New wires every component. Nothing is started until Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Str("cookie_dir", cfg.Auth.CookieDir).
		Str("publish_url", cfg.Portal.PublishURL).
		Bool("headless", cfg.Browser.Headless).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager
	return nil
}

func (a *App) initServices() error {
	var err error

	a.EventService = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.EventService, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	a.StatusService = status.NewService(a.EventService, a.Logger)

	a.SessionStore, err = auth.NewFileSessionStore(a.Config.Auth.CookieDir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	a.LoginCoordinator = auth.NewLoginCoordinator(a.EventService, a.Logger,
		auth.WithTimeout(a.Config.Auth.LoginTimeout.Duration),
		auth.WithStdinIfTerminal(),
	)

	a.Selectors, err = selectors.NewRegistry(a.Config.Selectors.File, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load selectors: %w", err)
	}

	a.Browser = browser.NewController(a.Config.Browser, a.Logger)
	a.Authenticator = browser.NewAuthenticator(
		a.SessionStore,
		a.LoginCoordinator,
		a.Selectors,
		a.Config.Portal,
		a.Config.Browser.SettleDelay.Duration,
		a.Logger,
	)
	machine := publisher.NewStateMachine(
		a.Selectors,
		a.Config.Portal.PublishURL,
		publisher.TimingsFromConfig(a.Config.Browser),
		a.Logger,
	)
	a.Publisher = publisher.NewService(a.Browser, a.Authenticator, machine, a.Logger)

	a.Stager, err = staging.NewService(
		a.Config.Publish.StagingDir,
		a.Config.Publish.DefaultVideo,
		httpclient.NewDownloadClient(a.Config.Publish.DownloadTimeout.Duration),
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create staging service: %w", err)
	}

	queueConfig, err := queue.ConfigFromCommon(a.Config)
	if err != nil {
		return err
	}
	a.Queue = queue.NewService(
		a.Publisher,
		a.Stager,
		a.StorageManager.TaskStorage(),
		a.EventService,
		a.StatusService,
		queueConfig,
		a.Logger,
	)

	a.SchedulerService = scheduler.NewService(a.Logger)
	if err := a.registerHousekeeping(); err != nil {
		return err
	}

	return nil
}

// registerHousekeeping schedules pruning of old task records and orphaned staged videos
func (a *App) registerHousekeeping() error {
	retention := a.Config.History.Retention.Duration
	schedule := a.Config.History.PruneSchedule

	if err := a.SchedulerService.RegisterJob(jobPruneHistory, schedule, "Delete finished task records past retention", func(ctx context.Context) error {
		deleted, err := a.StorageManager.TaskStorage().DeleteFinishedBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if deleted > 0 {
			a.Logger.Info().Int("deleted", deleted).Msg("Pruned task history")
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to register %s: %w", jobPruneHistory, err)
	}

	if err := a.SchedulerService.RegisterJob(jobPruneStaging, schedule, "Remove staged videos left behind by interrupted tasks", func(ctx context.Context) error {
		removed, err := a.Stager.PruneOlderThan(time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if removed > 0 {
			a.Logger.Info().Int("removed", removed).Msg("Pruned staged videos")
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to register %s: %w", jobPruneStaging, err)
	}

	return nil
}

func (a *App) initHandlers() error {
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}
	intake := handlers.NewPublishIntake(a.Queue, loc, a.Config.Portal.DefaultAccount, a.Logger)

	a.APIHandler = handlers.NewAPIHandler(a.StatusService, a.Logger)
	a.PublishHandler = handlers.NewPublishHandler(intake, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.Queue, a.StatusService, a.Logger)
	a.TaskHandler = handlers.NewTaskHandler(a.StorageManager.TaskStorage(), a.Logger)
	a.SessionHandler = handlers.NewSessionHandler(a.SessionStore, a.LoginCoordinator, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.StatusService, a.Logger, &a.Config.WebSocket)
	a.MCPHandler = handlers.NewMCPHandler(intake, a.Queue, a.StatusService, a.Logger)
	return nil
}

// Start marks records orphaned by a previous process, then starts the worker,
// the housekeeping scheduler and the selector file watcher.
func (a *App) Start() error {
	interrupted, err := a.StorageManager.TaskStorage().MarkInterrupted(a.ctx, "process restarted before the task finished")
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to mark interrupted tasks")
	} else if interrupted > 0 {
		a.Logger.Warn().Int("tasks", interrupted).Msg("Tasks from a previous run were marked failed")
	}

	if err := a.Queue.Start(a.ctx); err != nil {
		return fmt.Errorf("failed to start publish queue: %w", err)
	}

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.Config.Selectors.Watch {
		if err := a.Selectors.Watch(a.ctx); err != nil {
			a.Logger.Warn().Err(err).Str("file", a.Config.Selectors.File).Msg("Selector hot reload disabled")
		}
	}

	return nil
}

// Close stops background work and releases resources in reverse dependency order
func (a *App) Close() error {
	if a.Queue != nil {
		if err := a.Queue.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop publish queue")
		}
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.StorageManager = nil
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
