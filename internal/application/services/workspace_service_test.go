package services

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
	"github.com/ndyanx/prompt-studio/internal/ports"
)

// memRepo is an in-memory TaskRepository that counts writes.
type memRepo struct {
	mu   sync.Mutex
	data map[entities.Partition]map[int64]*entities.Task
	puts int
	adds int
}

func newMemRepo() *memRepo {
	return &memRepo{
		data: map[entities.Partition]map[int64]*entities.Task{
			entities.PartitionOffline: {},
			entities.PartitionSession: {},
		},
	}
}

func (r *memRepo) Add(ctx context.Context, p entities.Partition, task *entities.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adds++
	r.data[p][task.ID] = task.Clone()
	return nil
}

func (r *memRepo) Put(ctx context.Context, p entities.Partition, task *entities.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts++
	r.data[p][task.ID] = task.Clone()
	return nil
}

func (r *memRepo) Delete(ctx context.Context, p entities.Partition, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p][id]; !ok {
		return entities.ErrTaskNotFound
	}
	delete(r.data[p], id)
	return nil
}

func (r *memRepo) Clear(ctx context.Context, p entities.Partition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p] = map[int64]*entities.Task{}
	return nil
}

func (r *memRepo) Count(ctx context.Context, p entities.Partition) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.data[p])), nil
}

func (r *memRepo) List(ctx context.Context, p entities.Partition, orderBy string, desc bool) ([]*entities.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*entities.Task, 0, len(r.data[p]))
	for _, t := range r.data[p] {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		less := out[i].UpdatedAt < out[j].UpdatedAt
		if desc {
			return !less
		}
		return less
	})
	return out, nil
}

func (r *memRepo) BulkAdd(ctx context.Context, p entities.Partition, tasks []*entities.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tasks {
		r.data[p][t.ID] = t.Clone()
	}
	return nil
}

func (r *memRepo) putCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.puts
}

func (r *memRepo) get(p entities.Partition, id int64) *entities.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[p][id].Clone()
}

// fakeSessions is a canned SessionProvider.
type fakeSessions struct {
	mu      sync.Mutex
	session *entities.Session
	err     error
}

func (f *fakeSessions) Session(ctx context.Context) (*entities.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.err
}

func (f *fakeSessions) set(s *entities.Session, err error) {
	f.mu.Lock()
	f.session = s
	f.err = err
	f.mu.Unlock()
}

func newTestWorkspace(t *testing.T, repo *memRepo, sessions ports.SessionProvider, debounce time.Duration) *WorkspaceService {
	t.Helper()
	log := logger.NewNop()
	router := NewPartitionRouter(sessions, repo, log)
	return NewWorkspaceService(repo, router, debounce, log)
}

func TestInitCreatesDefaultTask(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)

	require.NoError(t, ws.Init(context.Background()))

	view := ws.View()
	require.NotNil(t, view.Active)
	assert.Equal(t, entities.PartitionOffline, view.Partition)
	assert.Equal(t, entities.DefaultTaskName, view.Active.Name)
	assert.Len(t, view.MediaSlots, 1)

	count, err := repo.Count(context.Background(), entities.PartitionOffline)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestLoadTasksSkipCreateLeavesEmptyPartition(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)

	// During the pre-restore window no default task may be created: the
	// remote snapshot is about to replace the partition contents.
	require.NoError(t, ws.LoadTasks(context.Background(), true))

	count, err := repo.Count(context.Background(), entities.PartitionOffline)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
	assert.Nil(t, ws.View().Active)

	// The regular path still backfills the default afterwards.
	require.NoError(t, ws.LoadTasks(context.Background(), false))
	require.NotNil(t, ws.View().Active)
	assert.Equal(t, entities.DefaultTaskName, ws.View().Active.Name)
}

func TestDebouncedSaveCoalesces(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, 50*time.Millisecond)
	require.NoError(t, ws.Init(context.Background()))

	ws.SetPrompt("edit 1")
	ws.SetPrompt("edit 2")
	ws.SetPrompt("edit 3")
	ws.SetPrompt("edit 4")
	ws.SetPrompt("final text")

	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, 1, repo.putCount())

	id := ws.View().Active.ID
	stored := repo.get(entities.PartitionOffline, id)
	assert.Equal(t, "final text", stored.Prompt)
}

func TestDebounceTimerRestartsPerEdit(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, 80*time.Millisecond)
	require.NoError(t, ws.Init(context.Background()))

	// Keep editing faster than the debounce interval; no save may land.
	for i := 0; i < 4; i++ {
		ws.SetPrompt("still typing")
		time.Sleep(30 * time.Millisecond)
	}
	assert.Equal(t, 0, repo.putCount())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, repo.putCount())
}

func TestRemoveSlotNoOpAtOne(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	require.NoError(t, ws.RemoveSlot(context.Background(), 0))

	assert.Len(t, ws.View().MediaSlots, 1)
	assert.Equal(t, 0, repo.putCount())
}

func TestSlotLifecycle(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	require.NoError(t, ws.AppendSlot(context.Background()))
	require.NoError(t, ws.SetSlot(1, entities.MediaSlot{PostURL: "p", VideoURL: "v"}))
	assert.ErrorIs(t, ws.SetSlot(5, entities.MediaSlot{}), entities.ErrSlotOutOfRange)

	require.NoError(t, ws.RemoveSlot(context.Background(), 0))

	view := ws.View()
	require.Len(t, view.MediaSlots, 1)
	assert.Equal(t, "p", view.MediaSlots[0].PostURL)

	// Append and remove persisted immediately; the slot edit debounced.
	assert.Equal(t, 2, repo.putCount())
}

func TestDeleteActivePromotesNext(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	first := ws.View().Active.ID
	second, err := ws.CreateTask(context.Background(), "Second", "")
	require.NoError(t, err)
	require.Equal(t, second.ID, ws.View().Active.ID)

	require.NoError(t, ws.DeleteTask(context.Background(), second.ID))

	view := ws.View()
	assert.Equal(t, first, view.Active.ID)
	assert.Len(t, view.Tasks, 1)
}

func TestDeleteLastTaskCreatesDefault(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	old := ws.View().Active.ID
	require.NoError(t, ws.DeleteTask(context.Background(), old))

	view := ws.View()
	require.NotNil(t, view.Active)
	assert.NotEqual(t, old, view.Active.ID)
	assert.Equal(t, entities.DefaultTaskName, view.Active.Name)
}

func TestDuplicateTask(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	src, err := ws.CreateTask(context.Background(), "Original", "A {color} sky")
	require.NoError(t, err)

	dup, err := ws.DuplicateTask(context.Background(), src.ID)
	require.NoError(t, err)

	assert.Equal(t, "Original (copy)", dup.Name)
	assert.Equal(t, "A {color} sky", dup.Prompt)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Len(t, ws.View().Tasks, 3)
}

func TestPlaceholderDefaultsAndPruning(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	ws.SetPrompt("A {color:Sky} wall with {color} trim")

	placeholders := ws.Placeholders()
	require.Len(t, placeholders, 2)
	assert.Equal(t, entities.DefaultColor, placeholders[0].Color)
	assert.Equal(t, "Sky", placeholders[0].Name)

	ws.SelectColor("color_1", "Crimson")
	assert.Equal(t, "A Crimson wall with SlateGray trim", ws.FinalPrompt())

	// Dropping the second token prunes its stale selection.
	ws.SelectColor("color_2", "Teal")
	ws.SetPrompt("Just {color:Sky} now")

	placeholders = ws.Placeholders()
	require.Len(t, placeholders, 1)
	assert.Equal(t, "Crimson", placeholders[0].Color)
	_, hasStale := ws.View().Colors["color_2"]
	assert.False(t, hasStale)
}

func TestRenameActiveSavesImmediately(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Hour)
	require.NoError(t, ws.Init(context.Background()))

	require.NoError(t, ws.RenameActive(context.Background(), "Renamed"))

	assert.Equal(t, 1, repo.putCount())
	stored := repo.get(entities.PartitionOffline, ws.View().Active.ID)
	assert.Equal(t, "Renamed", stored.Name)
}

func TestImportMany(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	doc := []byte(`{
		"version": "2.0.0",
		"tasks": [
			{"name": "One", "url_post": "https://example.com/p"},
			{"name": "Two", "colorSelections": {"color_1": "Red"}}
		]
	}`)

	count, err := ws.ImportMany(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	view := ws.View()
	require.Len(t, view.Tasks, 3)

	imported := view.Tasks[len(view.Tasks)-2:]
	assert.Equal(t, imported[0].ID+1, imported[1].ID)
	assert.Equal(t, "https://example.com/p", imported[0].Media[0].PostURL)
	assert.Equal(t, "Red", imported[1].Colors["color_1"])
}

func TestImportManyRejectsMissingTasks(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	_, err := ws.ImportMany(context.Background(), []byte(`{"version": "2.0.0"}`))
	assert.ErrorIs(t, err, entities.ErrImportFormat)

	_, err = ws.ImportMany(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, entities.ErrImportFormat)
}

func TestImportManyAcceptsEmptyArray(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	count, err := ws.ImportMany(context.Background(), []byte(`{"tasks": []}`))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestExportAll(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	doc, filename, err := ws.ExportAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, entities.SchemaVersion, doc.Version)
	assert.Equal(t, "tasks_local", doc.Source)
	assert.Len(t, doc.Tasks, 1)
	assert.Contains(t, filename, "prompt-tasks-tasks_local-")
}

func TestExportImportRoundTrip(t *testing.T) {
	repo := newMemRepo()
	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	src, err := ws.CreateTask(context.Background(), "Keeper", "A {color} sky")
	require.NoError(t, err)
	require.NoError(t, ws.SetSlot(0, entities.MediaSlot{PostURL: "p", VideoURL: "v"}))
	require.NoError(t, ws.SaveActive(context.Background()))

	doc, _, err := ws.ExportAll(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(doc)
	require.NoError(t, err)

	require.NoError(t, ws.DeleteAll(context.Background()))
	count, err := ws.ImportMany(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	tasks, err := repo.List(context.Background(), entities.PartitionOffline, "updated_at", true)
	require.NoError(t, err)

	var restored *entities.Task
	for _, task := range tasks {
		if task.Name == "Keeper" {
			restored = task
		}
	}
	require.NotNil(t, restored)
	assert.NotEqual(t, src.ID, restored.ID)
	assert.Equal(t, "A {color} sky", restored.Prompt)
	require.Len(t, restored.Media, 1)
	assert.Equal(t, "p", restored.Media[0].PostURL)
	assert.Equal(t, "v", restored.Media[0].VideoURL)
}

func TestClearSessionDataLeavesOfflineAlone(t *testing.T) {
	repo := newMemRepo()
	sessions := &fakeSessions{session: &entities.Session{UserID: "u1", AccessToken: "t"}}
	ws := newTestWorkspace(t, repo, sessions, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	// Active partition is the session one while signed in.
	require.Equal(t, entities.PartitionSession, ws.View().Partition)

	offline := entities.NewTask("Keep me", "")
	require.NoError(t, repo.Add(context.Background(), entities.PartitionOffline, offline))

	require.NoError(t, ws.ClearSessionData(context.Background()))

	sessionCount, _ := repo.Count(context.Background(), entities.PartitionSession)
	offlineCount, _ := repo.Count(context.Background(), entities.PartitionOffline)
	assert.EqualValues(t, 0, sessionCount)
	assert.EqualValues(t, 1, offlineCount)
	assert.Nil(t, ws.View().Active)
}

func TestOrphanSweepOnPartitionResolve(t *testing.T) {
	repo := newMemRepo()
	stale := entities.NewTask("Orphan", "")
	require.NoError(t, repo.Add(context.Background(), entities.PartitionSession, stale))

	ws := newTestWorkspace(t, repo, &fakeSessions{}, time.Second)
	require.NoError(t, ws.Init(context.Background()))

	count, _ := repo.Count(context.Background(), entities.PartitionSession)
	assert.EqualValues(t, 0, count)
	assert.Equal(t, entities.PartitionOffline, ws.View().Partition)
}
