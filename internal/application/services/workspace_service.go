package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
	"github.com/ndyanx/prompt-studio/internal/ports"
)

// WorkspaceService is the active-record controller: it owns the single
// currently edited task, the in-memory list of the active partition, and
// the editable mirrors the UI binds to. It is process-wide singleton
// state; Init is guarded to run once no matter how many consumers attach.
type WorkspaceService struct {
	tasks    ports.TaskRepository
	router   *PartitionRouter
	validate *validator.Validate
	logger   *logger.Logger
	debounce time.Duration

	initOnce sync.Once
	initErr  error

	mu        sync.Mutex
	partition entities.Partition
	list      []*entities.Task
	active    *entities.Task

	// Editable mirrors, deep-copied from the active task so in-place
	// edits cannot corrupt the stored list entry before a save.
	promptText string
	slots      []entities.MediaSlot
	colors     map[string]string

	phCache   placeholderCache
	saveTimer *time.Timer
}

// importDocument is the accepted import shape. Tasks is a pointer so a
// present-but-empty array validates while a missing field does not.
type importDocument struct {
	Version    string               `json:"version"`
	ExportedAt entities.EpochMillis `json:"exportedAt"`
	Source     string               `json:"source"`
	Tasks      *[]entities.RawTask  `json:"tasks" validate:"required"`
}

// NewWorkspaceService creates a new workspace service
func NewWorkspaceService(tasks ports.TaskRepository, router *PartitionRouter, debounce time.Duration, log *logger.Logger) *WorkspaceService {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &WorkspaceService{
		tasks:     tasks,
		router:    router,
		validate:  validator.New(),
		logger:    log.WithComponent("workspace"),
		debounce:  debounce,
		partition: entities.PartitionOffline,
		colors:    map[string]string{},
	}
}

// Init loads the initial task list exactly once.
func (s *WorkspaceService) Init(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.LoadTasks(ctx, false)
	})
	return s.initErr
}

// HandleEvent reacts to session transition signals.
func (s *WorkspaceService) HandleEvent(event Event) {
	ctx := context.Background()
	switch event {
	case EventRestored:
		if err := s.LoadTasks(ctx, false); err != nil {
			s.logger.Errorw("Reload after restore failed", "error", err)
		}
	case EventCreateDefault:
		if _, err := s.CreateTask(ctx, "", ""); err != nil {
			s.logger.Errorw("Default task creation failed", "error", err)
		}
	}
}

// LoadTasks reads the active partition ordered by most recent change and
// loads the first record as active. An empty partition yields a default
// task unless skipCreateIfEmpty is set, which callers use when a remote
// restoration is expected imminently.
func (s *WorkspaceService) LoadTasks(ctx context.Context, skipCreateIfEmpty bool) error {
	p, err := s.router.ActivePartition(ctx)
	if err != nil {
		return fmt.Errorf("resolve partition: %w", err)
	}

	list, err := s.tasks.List(ctx, p, "updated_at", true)
	if err != nil {
		s.logger.Errorw("Task list load failed", "partition", p, "error", err)
		if skipCreateIfEmpty {
			return err
		}
		_, createErr := s.CreateTask(ctx, "", "")
		return createErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.partition = p
	s.list = list

	if len(list) > 0 {
		s.loadTaskLocked(list[0])
		return nil
	}

	if skipCreateIfEmpty {
		s.active = nil
		s.resetMirrorsLocked()
		return nil
	}

	_, err = s.createTaskLocked(ctx, p, "", "")
	return err
}

// LoadTask makes the given task active.
func (s *WorkspaceService) LoadTask(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.list {
		if t.ID == id {
			s.loadTaskLocked(t)
			return nil
		}
	}
	return entities.ErrTaskNotFound
}

// loadTaskLocked copies the task into the editable mirrors. Deep copy:
// the mirrors and the list entry must never share backing storage.
func (s *WorkspaceService) loadTaskLocked(task *entities.Task) {
	// A pending save belongs to the previous record; drop it.
	s.cancelPendingSaveLocked()

	clone := task.Clone()
	clone.EnsureMedia()

	s.active = clone
	s.promptText = clone.Prompt
	s.slots = make([]entities.MediaSlot, len(clone.Media))
	copy(s.slots, clone.Media)
	s.colors = make(map[string]string, len(clone.Colors))
	for k, v := range clone.Colors {
		s.colors[k] = v
	}
	s.phCache.invalidate()
	s.ensurePlaceholdersLocked()
}

func (s *WorkspaceService) resetMirrorsLocked() {
	s.promptText = ""
	s.slots = nil
	s.colors = map[string]string{}
	s.phCache.invalidate()
	s.cancelPendingSaveLocked()
}

// CreateTask creates a task with the given fields (defaults when empty),
// persists it to the active partition, and makes it active.
func (s *WorkspaceService) CreateTask(ctx context.Context, name, prompt string) (*entities.Task, error) {
	p, err := s.router.ActivePartition(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve partition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTaskLocked(ctx, p, name, prompt)
}

func (s *WorkspaceService) createTaskLocked(ctx context.Context, p entities.Partition, name, prompt string) (*entities.Task, error) {
	task := entities.NewTask(name, prompt)

	if err := s.tasks.Add(ctx, p, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.partition = p
	s.list = append([]*entities.Task{task}, s.list...)
	s.loadTaskLocked(task)

	s.logger.Infow("Task created", "task_id", task.ID, "partition", p)
	return task.Clone(), nil
}

// DuplicateTask copies an existing task under a new identity.
func (s *WorkspaceService) DuplicateTask(ctx context.Context, id int64) (*entities.Task, error) {
	p, err := s.router.ActivePartition(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve partition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var src *entities.Task
	for _, t := range s.list {
		if t.ID == id {
			src = t
			break
		}
	}
	if src == nil {
		return nil, entities.ErrTaskNotFound
	}

	dup := entities.NewTask(src.Name+" (copy)", src.Prompt)
	for k, v := range src.Colors {
		dup.Colors[k] = v
	}
	dup.Media = make([]entities.MediaSlot, len(src.Media))
	copy(dup.Media, src.Media)
	dup.EnsureMedia()

	if err := s.tasks.Add(ctx, p, dup); err != nil {
		return nil, fmt.Errorf("duplicate task: %w", err)
	}

	s.list = append([]*entities.Task{dup}, s.list...)
	return dup.Clone(), nil
}

// DeleteTask removes a task. Deleting the active record promotes the
// next-most-recent one, or creates a default when none remain.
func (s *WorkspaceService) DeleteTask(ctx context.Context, id int64) error {
	p, err := s.router.ActivePartition(ctx)
	if err != nil {
		return fmt.Errorf("resolve partition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tasks.Delete(ctx, p, id); err != nil {
		return err
	}

	for i, t := range s.list {
		if t.ID == id {
			s.list = append(s.list[:i], s.list[i+1:]...)
			break
		}
	}

	if s.active != nil && s.active.ID == id {
		s.cancelPendingSaveLocked()
		if len(s.list) > 0 {
			s.loadTaskLocked(s.list[0])
		} else {
			if _, err := s.createTaskLocked(ctx, p, "", ""); err != nil {
				return err
			}
		}
	}

	return nil
}

// DeleteAll clears the active partition and starts over with a default.
func (s *WorkspaceService) DeleteAll(ctx context.Context) error {
	p, err := s.router.ActivePartition(ctx)
	if err != nil {
		return fmt.Errorf("resolve partition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tasks.Clear(ctx, p); err != nil {
		return err
	}

	s.cancelPendingSaveLocked()
	s.list = nil
	s.active = nil

	_, err = s.createTaskLocked(ctx, p, "", "")
	return err
}

// RenameActive renames the active task and persists immediately.
func (s *WorkspaceService) RenameActive(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return entities.ErrNoActiveTask
	}

	s.active.Name = name
	return s.saveActiveLocked(ctx)
}

// SetPrompt updates the prompt mirror and schedules a debounced save.
func (s *WorkspaceService) SetPrompt(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return
	}

	s.promptText = text
	s.ensurePlaceholdersLocked()
	s.scheduleSaveLocked()
}

// SelectColor picks a color for a placeholder key and schedules a
// debounced save.
func (s *WorkspaceService) SelectColor(key, color string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return
	}

	s.colors[key] = color
	s.scheduleSaveLocked()
}

// SetSlot updates one media slot and schedules a debounced save.
func (s *WorkspaceService) SetSlot(index int, slot entities.MediaSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return entities.ErrNoActiveTask
	}
	if index < 0 || index >= len(s.slots) {
		return entities.ErrSlotOutOfRange
	}

	s.slots[index] = slot
	s.scheduleSaveLocked()
	return nil
}

// AppendSlot adds a blank media slot. Structural edits are discrete user
// actions, so they persist immediately instead of debouncing.
func (s *WorkspaceService) AppendSlot(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return entities.ErrNoActiveTask
	}

	s.slots = append(s.slots, entities.MediaSlot{})
	return s.saveActiveLocked(ctx)
}

// RemoveSlot drops a media slot, persisting immediately. A no-op when
// exactly one slot remains: the never-empty invariant is enforced here.
func (s *WorkspaceService) RemoveSlot(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return entities.ErrNoActiveTask
	}
	if len(s.slots) <= 1 {
		return nil
	}
	if index < 0 || index >= len(s.slots) {
		return entities.ErrSlotOutOfRange
	}

	s.slots = append(s.slots[:index], s.slots[index+1:]...)
	return s.saveActiveLocked(ctx)
}

// SaveActive persists the editable mirrors into the active partition now.
func (s *WorkspaceService) SaveActive(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveActiveLocked(ctx)
}

// Flush cancels any pending debounce timer and saves immediately, used on
// shutdown so the last keystrokes are not lost.
func (s *WorkspaceService) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelPendingSaveLocked()
	if s.active == nil {
		return nil
	}
	return s.saveActiveLocked(ctx)
}

// saveActiveLocked builds a flat payload from the mirrors and upserts it,
// then reflects the change into the in-memory list. On write failure the
// in-memory state stays as edited; the caller is informed via the error.
func (s *WorkspaceService) saveActiveLocked(ctx context.Context) error {
	if s.active == nil {
		return entities.ErrNoActiveTask
	}

	p, err := s.router.ActivePartition(ctx)
	if err != nil {
		return fmt.Errorf("resolve partition: %w", err)
	}

	s.ensurePlaceholdersLocked()

	valid := make(map[string]string)
	for _, ph := range s.phCache.get(s.promptText) {
		if color := s.colors[ph.Key]; color != "" {
			valid[ph.Key] = color
		}
	}

	task := &entities.Task{
		ID:        s.active.ID,
		Name:      s.active.Name,
		Prompt:    s.promptText,
		Colors:    valid,
		Media:     make([]entities.MediaSlot, len(s.slots)),
		CreatedAt: s.active.CreatedAt,
		UpdatedAt: time.Now().UnixMilli(),
	}
	copy(task.Media, s.slots)
	task.EnsureMedia()

	if err := s.tasks.Put(ctx, p, task); err != nil {
		s.logger.Errorw("Task save failed", "task_id", task.ID, "partition", p, "error", err)
		return err
	}

	s.active = task
	for i, t := range s.list {
		if t.ID == task.ID {
			s.list[i] = task.Clone()
			break
		}
	}

	return nil
}

// scheduleSaveLocked (re)starts the debounce timer: each successive edit
// cancels the prior pending save, so a burst of keystrokes lands as a
// single write reflecting the last edit.
func (s *WorkspaceService) scheduleSaveLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.debounce, func() {
		if err := s.SaveActive(context.Background()); err != nil {
			s.logger.Errorw("Debounced save failed", "error", err)
		}
	})
}

func (s *WorkspaceService) cancelPendingSaveLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
}

// ensurePlaceholdersLocked gives every discovered key a default color and
// prunes selections whose key no longer appears in the prompt.
func (s *WorkspaceService) ensurePlaceholdersLocked() {
	parsed := s.phCache.get(s.promptText)

	valid := make(map[string]bool, len(parsed))
	for _, ph := range parsed {
		valid[ph.Key] = true
		if s.colors[ph.Key] == "" {
			s.colors[ph.Key] = entities.DefaultColor
		}
	}
	for key := range s.colors {
		if !valid[key] {
			delete(s.colors, key)
		}
	}
}

// Placeholders returns the parsed color tokens of the current prompt.
func (s *WorkspaceService) Placeholders() []ports.PlaceholderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensurePlaceholdersLocked()

	parsed := s.phCache.get(s.promptText)
	out := make([]ports.PlaceholderInfo, 0, len(parsed))
	for _, ph := range parsed {
		out = append(out, ports.PlaceholderInfo{
			Key:   ph.Key,
			Name:  ph.Name,
			Token: ph.Token,
			Index: ph.Index,
			Color: s.colors[ph.Key],
		})
	}
	return out
}

// FinalPrompt renders the prompt with every color token substituted.
func (s *WorkspaceService) FinalPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensurePlaceholdersLocked()
	return renderPrompt(s.promptText, s.phCache.get(s.promptText), s.colors)
}

// View returns a consistent deep-copied read of the workspace state.
func (s *WorkspaceService) View() ports.WorkspaceView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := ports.WorkspaceView{
		Partition:  s.partition,
		Tasks:      make([]*entities.Task, 0, len(s.list)),
		Active:     s.active.Clone(),
		PromptText: s.promptText,
		MediaSlots: make([]entities.MediaSlot, len(s.slots)),
		Colors:     make(map[string]string, len(s.colors)),
	}
	for _, t := range s.list {
		view.Tasks = append(view.Tasks, t.Clone())
	}
	copy(view.MediaSlots, s.slots)
	for k, v := range s.colors {
		view.Colors[k] = v
	}
	return view
}

// ExportAll serializes the full active partition into a portable document
// tagged with the source partition and schema version.
func (s *WorkspaceService) ExportAll(ctx context.Context) (*entities.ExportDocument, string, error) {
	p, err := s.router.ActivePartition(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("resolve partition: %w", err)
	}

	list, err := s.tasks.List(ctx, p, "updated_at", true)
	if err != nil {
		return nil, "", fmt.Errorf("export: %w", err)
	}

	now := time.Now().UnixMilli()
	doc := &entities.ExportDocument{
		ID:         uuid.NewString(),
		Version:    entities.SchemaVersion,
		ExportedAt: now,
		Source:     p.Table(),
		Tasks:      make([]entities.RawTask, 0, len(list)),
	}
	for _, t := range list {
		doc.Tasks = append(doc.Tasks, entities.RawFromTask(t))
	}

	filename := fmt.Sprintf("prompt-tasks-%s-%d.json", p.Table(), now)
	s.logger.Infow("Tasks exported", "count", len(doc.Tasks), "partition", p)
	return doc, filename, nil
}

// ImportMany validates and bulk-inserts an exported document. Incoming
// ids are never trusted: every record gets a fresh sequential id derived
// from the current time plus its index, guaranteeing uniqueness against
// whatever is already stored.
func (s *WorkspaceService) ImportMany(ctx context.Context, data []byte) (int, error) {
	var doc importDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("%w: %v", entities.ErrImportFormat, err)
	}
	if err := s.validate.Struct(&doc); err != nil {
		return 0, fmt.Errorf("%w: tasks array is missing", entities.ErrImportFormat)
	}

	p, err := s.router.ActivePartition(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve partition: %w", err)
	}

	base := time.Now().UnixMilli()
	incoming := make([]*entities.Task, 0, len(*doc.Tasks))
	for i, raw := range *doc.Tasks {
		task := entities.Normalize(raw)
		task.ID = base + int64(i)
		incoming = append(incoming, task)
	}

	if err := s.tasks.BulkAdd(ctx, p, incoming); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}

	s.mu.Lock()
	s.partition = p
	s.list = append(s.list, incoming...)
	s.mu.Unlock()

	s.logger.Infow("Tasks imported", "count", len(incoming), "partition", p)
	return len(incoming), nil
}

// ClearSessionData wipes the session partition and resets all in-memory
// state, leaving the offline partition untouched. Called on sign-out.
func (s *WorkspaceService) ClearSessionData(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tasks.Clear(ctx, entities.PartitionSession); err != nil {
		return fmt.Errorf("clear session data: %w", err)
	}

	s.cancelPendingSaveLocked()
	s.list = nil
	s.active = nil
	s.resetMirrorsLocked()
	s.partition = entities.PartitionOffline

	s.logger.Info("Session partition cleared, workspace reset")
	return nil
}
