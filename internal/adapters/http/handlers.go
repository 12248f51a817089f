package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ndyanx/prompt-studio/internal/application/services"
	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
	"github.com/ndyanx/prompt-studio/internal/ports"
)

// MessageResponse is a simple message payload
type MessageResponse struct {
	Message string `json:"message"`
}

// WorkspaceHandler handles task and active-record requests
type WorkspaceHandler struct {
	workspace *services.WorkspaceService
	logger    *logger.Logger
}

// NewWorkspaceHandler creates a new workspace handler
func NewWorkspaceHandler(workspace *services.WorkspaceService, logger *logger.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{
		workspace: workspace,
		logger:    logger,
	}
}

// GetWorkspace returns the full workspace view
func (h *WorkspaceHandler) GetWorkspace(c echo.Context) error {
	return c.JSON(http.StatusOK, h.workspace.View())
}

// CreateTask handles task creation
func (h *WorkspaceHandler) CreateTask(c echo.Context) error {
	var req ports.CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	task, err := h.workspace.CreateTask(c.Request().Context(), req.Name, req.Prompt)
	if err != nil {
		h.logger.Errorw("Create task failed", "error", err)
		return err
	}

	return c.JSON(http.StatusCreated, task)
}

// LoadTask makes the given task active
func (h *WorkspaceHandler) LoadTask(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}

	if err := h.workspace.LoadTask(c.Request().Context(), id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, h.workspace.View())
}

// DuplicateTask copies a task under a new identity
func (h *WorkspaceHandler) DuplicateTask(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}

	task, err := h.workspace.DuplicateTask(c.Request().Context(), id)
	if err != nil {
		h.logger.Errorw("Duplicate task failed", "error", err, "task_id", id)
		return err
	}

	return c.JSON(http.StatusCreated, task)
}

// DeleteTask removes a task
func (h *WorkspaceHandler) DeleteTask(c echo.Context) error {
	id, err := parseTaskID(c)
	if err != nil {
		return err
	}

	if err := h.workspace.DeleteTask(c.Request().Context(), id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: "Task deleted"})
}

// DeleteAll clears the active partition
func (h *WorkspaceHandler) DeleteAll(c echo.Context) error {
	if err := h.workspace.DeleteAll(c.Request().Context()); err != nil {
		h.logger.Errorw("Delete all failed", "error", err)
		return err
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: "All tasks deleted"})
}

// RenameActive renames the active task
func (h *WorkspaceHandler) RenameActive(c echo.Context) error {
	var req ports.RenameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.workspace.RenameActive(c.Request().Context(), req.Name); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: "Task renamed"})
}

// SetPrompt replaces the editable prompt mirror
func (h *WorkspaceHandler) SetPrompt(c echo.Context) error {
	var req ports.PromptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	h.workspace.SetPrompt(req.Prompt)
	return c.JSON(http.StatusOK, h.workspace.Placeholders())
}

// GetPlaceholders returns the parsed color tokens of the current prompt
func (h *WorkspaceHandler) GetPlaceholders(c echo.Context) error {
	return c.JSON(http.StatusOK, h.workspace.Placeholders())
}

// SelectColor picks a color for a placeholder key
func (h *WorkspaceHandler) SelectColor(c echo.Context) error {
	key := c.Param("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing placeholder key")
	}

	var req ports.ColorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	h.workspace.SelectColor(key, req.Color)
	return c.JSON(http.StatusOK, h.workspace.Placeholders())
}

// RenderPrompt returns the prompt with all color tokens substituted
func (h *WorkspaceHandler) RenderPrompt(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"prompt": h.workspace.FinalPrompt(),
	})
}

// SetSlot updates one media slot
func (h *WorkspaceHandler) SetSlot(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid slot index")
	}

	var req ports.SlotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	slot := entities.MediaSlot{PostURL: req.PostURL, VideoURL: req.VideoURL}
	if err := h.workspace.SetSlot(index, slot); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: "Slot updated"})
}

// AppendSlot adds a blank media slot
func (h *WorkspaceHandler) AppendSlot(c echo.Context) error {
	if err := h.workspace.AppendSlot(c.Request().Context()); err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, h.workspace.View().MediaSlots)
}

// RemoveSlot drops a media slot
func (h *WorkspaceHandler) RemoveSlot(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid slot index")
	}

	if err := h.workspace.RemoveSlot(c.Request().Context(), index); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, h.workspace.View().MediaSlots)
}

// ExportTasks serializes the active partition as a download
func (h *WorkspaceHandler) ExportTasks(c echo.Context) error {
	doc, filename, err := h.workspace.ExportAll(c.Request().Context())
	if err != nil {
		h.logger.Errorw("Export failed", "error", err)
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.JSON(http.StatusOK, doc)
}

// ImportTasks bulk-inserts an exported document
func (h *WorkspaceHandler) ImportTasks(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	count, err := h.workspace.ImportMany(c.Request().Context(), body)
	if err != nil {
		h.logger.Errorw("Import failed", "error", err)
		return err
	}

	return c.JSON(http.StatusOK, map[string]int{"imported": count})
}

func parseTaskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid task ID")
	}
	return id, nil
}

// SyncHandler handles sync engine requests
type SyncHandler struct {
	sync   *services.SyncService
	logger *logger.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(sync *services.SyncService, logger *logger.Logger) *SyncHandler {
	return &SyncHandler{
		sync:   sync,
		logger: logger,
	}
}

// Push uploads a snapshot of the session partition
func (h *SyncHandler) Push(c echo.Context) error {
	result, err := h.sync.Push(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// Pull restores the latest snapshot into the session partition
func (h *SyncHandler) Pull(c echo.Context) error {
	result, err := h.sync.Pull(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// Status reports the sync engine's observable state
func (h *SyncHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sync.Status())
}

// SessionHandler handles session transition requests
type SessionHandler struct {
	session   *services.SessionService
	workspace *services.WorkspaceService
	logger    *logger.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(session *services.SessionService, workspace *services.WorkspaceService, logger *logger.Logger) *SessionHandler {
	return &SessionHandler{
		session:   session,
		workspace: workspace,
		logger:    logger,
	}
}

// SignIn installs the externally obtained access token and restores the
// remote snapshot
func (h *SessionHandler) SignIn(c echo.Context) error {
	var req ports.SignInRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.session.HandleSignIn(c.Request().Context(), req.AccessToken); err != nil {
		h.logger.Errorw("Sign-in failed", "error", err)
		return err
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: "Signed in"})
}

// SignOut tears the session down and wipes session-scoped data
func (h *SessionHandler) SignOut(c echo.Context) error {
	err := h.session.HandleSignOut(c.Request().Context(), h.workspace.ClearSessionData)
	if err != nil {
		h.logger.Errorw("Sign-out failed", "error", err)
		return err
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: "Signed out"})
}

// SetNetwork toggles the reachability flag
func (h *SessionHandler) SetNetwork(c echo.Context) error {
	var req ports.NetworkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}

	h.session.HandleNetwork(req.Online)
	return c.JSON(http.StatusOK, MessageResponse{Message: "Network state updated"})
}

// SettingsHandler handles settings requests
type SettingsHandler struct {
	settings ports.SettingsRepository
	logger   *logger.Logger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings ports.SettingsRepository, logger *logger.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: settings,
		logger:   logger,
	}
}

// GetTheme returns the persisted theme preference, dark by default
func (h *SettingsHandler) GetTheme(c echo.Context) error {
	setting, err := h.settings.Get(c.Request().Context(), entities.SettingTheme)
	if err != nil {
		h.logger.Errorw("Get theme failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read settings")
	}

	theme := entities.ThemeDark
	if setting != nil {
		theme = setting.Value
	}

	return c.JSON(http.StatusOK, map[string]string{"theme": theme})
}

// SetTheme persists the theme preference
func (h *SettingsHandler) SetTheme(c echo.Context) error {
	var req ports.ThemeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	setting := &entities.Setting{Key: entities.SettingTheme, Value: req.Theme}
	if err := h.settings.Put(c.Request().Context(), setting); err != nil {
		h.logger.Errorw("Set theme failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save settings")
	}

	return c.JSON(http.StatusOK, map[string]string{"theme": req.Theme})
}
