package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpHandlers "github.com/ndyanx/prompt-studio/internal/adapters/http"
	"github.com/ndyanx/prompt-studio/internal/adapters/remote"
	"github.com/ndyanx/prompt-studio/internal/adapters/repository"
	"github.com/ndyanx/prompt-studio/internal/application/services"
	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/config"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/database"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
)

// Server is the companion HTTP API over the local workspace
type Server struct {
	echo      *echo.Echo
	config    *config.Config
	logger    *logger.Logger
	db        *database.DB
	session   *services.SessionService
	sync      *services.SyncService
	workspace *services.WorkspaceService
}

// CustomValidator wraps the validator
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates structs
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

// New creates a new server instance
func New(cfg *config.Config, db *database.DB, appLogger *logger.Logger) (*Server, error) {
	e := echo.New()

	// Set custom validator
	e.Validator = &CustomValidator{validator: validator.New()}

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true

	// Custom error handler
	e.HTTPErrorHandler = customErrorHandler(appLogger)

	// Initialize repositories and remote adapters
	taskRepo := repository.NewTaskRepository(db.DB)
	settingsRepo := repository.NewSettingsRepository(db.DB)
	sessionStore := remote.NewSessionStore(appLogger)
	snapshotClient := remote.NewSnapshotClient(cfg.Supabase, appLogger)

	server := &Server{
		echo:   e,
		config: cfg,
		logger: appLogger,
		db:     db,
	}

	// Setup metrics first so the sync engine can register its collectors
	var syncMetrics *services.SyncMetrics
	if cfg.Metrics.Enabled {
		registry := server.setupMetrics()
		syncMetrics = services.NewSyncMetrics(registry)
	}

	// Initialize services
	router := services.NewPartitionRouter(sessionStore, taskRepo, appLogger)
	workspaceService := services.NewWorkspaceService(taskRepo, router, cfg.Sync.DebounceInterval, appLogger)
	syncService := services.NewSyncService(taskRepo, settingsRepo, snapshotClient, sessionStore, cfg.Sync, syncMetrics, appLogger)
	sessionService := services.NewSessionService(sessionStore, syncService, router, taskRepo, cfg.Sync, appLogger)
	sessionService.RegisterHandler(workspaceService.HandleEvent)

	server.session = sessionService
	server.sync = syncService
	server.workspace = workspaceService

	// Initialize handlers
	workspaceHandler := httpHandlers.NewWorkspaceHandler(workspaceService, appLogger)
	syncHandler := httpHandlers.NewSyncHandler(syncService, appLogger)
	sessionHandler := httpHandlers.NewSessionHandler(sessionService, workspaceService, appLogger)
	settingsHandler := httpHandlers.NewSettingsHandler(settingsRepo, appLogger)

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes(workspaceHandler, syncHandler, sessionHandler, settingsHandler)

	return server, nil
}

// Startup resolves the initial session state and loads the workspace.
// Must run before Start so the first request never sees an empty
// partition that should have held a default task.
func (s *Server) Startup(ctx context.Context) error {
	return s.session.Startup(ctx)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(
	workspaceHandler *httpHandlers.WorkspaceHandler,
	syncHandler *httpHandlers.SyncHandler,
	sessionHandler *httpHandlers.SessionHandler,
	settingsHandler *httpHandlers.SettingsHandler,
) {
	// Health check routes
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/ready", s.readinessCheck)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")

	// Workspace and task routes
	v1.GET("/workspace", workspaceHandler.GetWorkspace)
	v1.POST("/tasks", workspaceHandler.CreateTask)
	v1.POST("/tasks/:id/activate", workspaceHandler.LoadTask)
	v1.POST("/tasks/:id/duplicate", workspaceHandler.DuplicateTask)
	v1.DELETE("/tasks/:id", workspaceHandler.DeleteTask)
	v1.DELETE("/tasks", workspaceHandler.DeleteAll)
	v1.GET("/tasks/export", workspaceHandler.ExportTasks)
	v1.POST("/tasks/import", workspaceHandler.ImportTasks)

	// Active-record routes
	active := v1.Group("/active")
	active.PUT("/name", workspaceHandler.RenameActive)
	active.PUT("/prompt", workspaceHandler.SetPrompt)
	active.GET("/placeholders", workspaceHandler.GetPlaceholders)
	active.PUT("/colors/:key", workspaceHandler.SelectColor)
	active.GET("/render", workspaceHandler.RenderPrompt)
	active.POST("/media", workspaceHandler.AppendSlot)
	active.PUT("/media/:index", workspaceHandler.SetSlot)
	active.DELETE("/media/:index", workspaceHandler.RemoveSlot)

	// Sync routes
	syncGroup := v1.Group("/sync")
	syncGroup.POST("/push", syncHandler.Push)
	syncGroup.POST("/pull", syncHandler.Pull)
	syncGroup.GET("/status", syncHandler.Status)

	// Session routes
	sessionGroup := v1.Group("/session")
	sessionGroup.POST("/signin", sessionHandler.SignIn)
	sessionGroup.POST("/signout", sessionHandler.SignOut)
	sessionGroup.PUT("/network", sessionHandler.SetNetwork)

	// Settings routes
	settingsGroup := v1.Group("/settings")
	settingsGroup.GET("/theme", settingsHandler.GetTheme)
	settingsGroup.PUT("/theme", settingsHandler.SetTheme)
}

// setupMetrics configures Prometheus metrics
func (s *Server) setupMetrics() *prometheus.Registry {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(requestsTotal, requestDuration)

	// Custom metrics middleware
	s.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			duration := time.Since(start)
			status := c.Response().Status

			requestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				fmt.Sprintf("%d", status),
			).Inc()

			requestDuration.WithLabelValues(
				c.Request().Method,
				c.Path(),
			).Observe(duration.Seconds())

			return err
		}
	})

	// Metrics endpoint
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	s.echo.GET("/metrics", echo.WrapHandler(metricsHandler))

	return registry
}

// Health check handlers
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessCheck(c echo.Context) error {
	if err := s.db.Ping(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "database_not_ready",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.Infow("Starting server", "address", address)
	return s.echo.Start(address)
}

// Shutdown flushes pending workspace edits and stops the server. The
// flush runs first: a debounced save may still be waiting on its timer,
// and those keystrokes must land before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")
	if err := s.workspace.Flush(ctx); err != nil {
		s.logger.Errorw("Final workspace flush failed", "error", err)
	}
	return s.echo.Shutdown(ctx)
}

// customErrorHandler maps domain errors onto HTTP statuses
func customErrorHandler(logger *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var (
			code = http.StatusInternalServerError
			msg  interface{}
		)

		var throttled *entities.ThrottledError
		var httpErr *echo.HTTPError
		var validationErrs validator.ValidationErrors

		switch {
		case errors.As(err, &httpErr):
			code = httpErr.Code
			msg = httpErr.Message
			if httpErr.Internal != nil {
				err = fmt.Errorf("%v, %v", err, httpErr.Internal)
			}
		case errors.As(err, &throttled):
			code = http.StatusTooManyRequests
			msg = map[string]interface{}{
				"message":           throttled.Error(),
				"seconds_remaining": int(throttled.Remaining.Seconds() + 0.5),
			}
		case errors.As(err, &validationErrs):
			code = http.StatusBadRequest
			msg = map[string]string{"message": "validation failed", "details": validationErrs.Error()}
		case errors.Is(err, entities.ErrTaskNotFound), errors.Is(err, entities.ErrNoSnapshot):
			code = http.StatusNotFound
			msg = map[string]string{"message": err.Error()}
		case errors.Is(err, entities.ErrSyncInProgress):
			code = http.StatusConflict
			msg = map[string]string{"message": err.Error()}
		case errors.Is(err, entities.ErrOffline):
			code = http.StatusServiceUnavailable
			msg = map[string]string{"message": err.Error()}
		case errors.Is(err, entities.ErrAuthExpired), errors.Is(err, entities.ErrNotAuthenticated):
			code = http.StatusUnauthorized
			msg = map[string]string{"message": err.Error()}
		case errors.Is(err, entities.ErrSyncDisabled):
			code = http.StatusNotImplemented
			msg = map[string]string{"message": err.Error()}
		case errors.Is(err, entities.ErrImportFormat), errors.Is(err, entities.ErrNoActiveTask),
			errors.Is(err, entities.ErrSlotOutOfRange):
			code = http.StatusBadRequest
			msg = map[string]string{"message": err.Error()}
		case errors.Is(err, entities.ErrRemoteServer):
			code = http.StatusBadGateway
			msg = map[string]string{"message": err.Error()}
		default:
			msg = map[string]string{"message": http.StatusText(code)}
		}

		if code == http.StatusInternalServerError {
			logger.Errorw("Internal server error", "error", err, "path", c.Request().URL.Path)
		}

		// Send response
		if !c.Response().Committed {
			if c.Request().Method == echo.HEAD {
				err = c.NoContent(code)
			} else {
				err = c.JSON(code, msg)
			}
			if err != nil {
				logger.Errorw("Error sending response", "error", err)
			}
		}
	}
}
