package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/config"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
)

// fakeStore is a canned SnapshotStore that records traffic. A non-nil
// block channel parks every Upsert until the channel closes.
type fakeStore struct {
	mu        sync.Mutex
	disabled  bool
	block     chan struct{}
	upsertErr error
	latest    *entities.RawSnapshot
	latestErr error
	upserts   int
	lastPush  *entities.Snapshot
	lastMeta  entities.SyncMetadata
}

func (f *fakeStore) Enabled() bool {
	return !f.disabled
}

func (f *fakeStore) Upsert(ctx context.Context, session *entities.Session, snapshot *entities.Snapshot, meta entities.SyncMetadata) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.lastPush = snapshot
	f.lastMeta = meta
	return nil
}

func (f *fakeStore) Latest(ctx context.Context, session *entities.Session) (*entities.RawSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.latest, nil
}

func (f *fakeStore) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upserts
}

// memSettings is an in-memory SettingsRepository.
type memSettings struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{data: map[string]string{}}
}

func (r *memSettings) Get(ctx context.Context, key string) (*entities.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[key]
	if !ok {
		return nil, nil
	}
	return &entities.Setting{Key: key, Value: v}, nil
}

func (r *memSettings) Put(ctx context.Context, setting *entities.Setting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[setting.Key] = setting.Value
	return nil
}

func (r *memSettings) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *memSettings) List(ctx context.Context) ([]entities.Setting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entities.Setting, 0, len(r.data))
	for k, v := range r.data {
		out = append(out, entities.Setting{Key: k, Value: v})
	}
	return out, nil
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		ThrottleWindow:      10 * time.Second,
		MaxRetries:          3,
		RetryBaseDelay:      20 * time.Millisecond,
		RetryMaxDelay:       80 * time.Millisecond,
		PendingWaitTimeout:  time.Second,
		PendingPollInterval: 10 * time.Millisecond,
	}
}

func newTestSync(repo *memRepo, store *fakeStore, sessions *fakeSessions, cfg config.SyncConfig) *SyncService {
	return NewSyncService(repo, newMemSettings(), store, sessions, cfg, nil, logger.NewNop())
}

func signedIn() *fakeSessions {
	return &fakeSessions{session: &entities.Session{UserID: "u1", AccessToken: "t"}}
}

func TestPushUploadsSessionPartition(t *testing.T) {
	repo := newMemRepo()
	task := entities.NewTask("Synced", "")
	require.NoError(t, repo.Add(context.Background(), entities.PartitionSession, task))

	store := &fakeStore{}
	sync := newTestSync(repo, store, signedIn(), testSyncConfig())

	result, err := sync.Push(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Tasks)
	assert.Equal(t, entities.SchemaVersion, store.lastPush.Version)
	assert.Equal(t, 1, store.lastPush.Stats.TotalTasks)
	assert.Equal(t, "manual", store.lastMeta.SyncMethod)
	assert.NotEmpty(t, store.lastMeta.DeviceID)
}

func TestPushThrottledInsideWindow(t *testing.T) {
	repo := newMemRepo()
	store := &fakeStore{}
	sync := newTestSync(repo, store, signedIn(), testSyncConfig())

	_, err := sync.Push(context.Background())
	require.NoError(t, err)

	_, err = sync.Push(context.Background())
	var throttled *entities.ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Greater(t, throttled.Remaining, time.Duration(0))

	// The rejected push never reached the network.
	assert.Equal(t, 1, store.upsertCount())

	status := sync.Status()
	assert.True(t, status.Throttled)
	assert.Greater(t, status.ThrottleRemaining, 0)
}

func TestPushRequiresSession(t *testing.T) {
	sync := newTestSync(newMemRepo(), &fakeStore{}, &fakeSessions{}, testSyncConfig())

	_, err := sync.Push(context.Background())
	assert.ErrorIs(t, err, entities.ErrNotAuthenticated)
}

func TestPushRejectedWhileOffline(t *testing.T) {
	store := &fakeStore{}
	sync := newTestSync(newMemRepo(), store, signedIn(), testSyncConfig())
	sync.SetNetwork(false)

	_, err := sync.Push(context.Background())
	assert.ErrorIs(t, err, entities.ErrOffline)
	assert.Equal(t, 0, store.upsertCount())
}

func TestPushDisabledStore(t *testing.T) {
	sync := newTestSync(newMemRepo(), &fakeStore{disabled: true}, signedIn(), testSyncConfig())

	_, err := sync.Push(context.Background())
	assert.ErrorIs(t, err, entities.ErrSyncDisabled)
}

func TestPushFailureSchedulesRetries(t *testing.T) {
	store := &fakeStore{upsertErr: entities.ErrRemoteServer}
	sync := newTestSync(newMemRepo(), store, signedIn(), testSyncConfig())

	_, err := sync.Push(context.Background())
	require.ErrorIs(t, err, entities.ErrRemoteServer)

	// Three retries at 20/40/80ms, all failing.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 4, store.upsertCount())

	status := sync.Status()
	assert.False(t, status.LastSuccess)
	assert.NotEmpty(t, status.LastError)
}

func TestResetTransientCancelsRetries(t *testing.T) {
	cfg := testSyncConfig()
	cfg.RetryBaseDelay = 100 * time.Millisecond
	store := &fakeStore{upsertErr: entities.ErrRemoteServer}
	sync := newTestSync(newMemRepo(), store, signedIn(), cfg)

	_, err := sync.Push(context.Background())
	require.Error(t, err)

	sync.ResetTransient()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, 1, store.upsertCount())
	assert.False(t, sync.Status().Throttled)
	assert.Empty(t, sync.Status().LastError)
}

func TestAuthFailureNeverRetries(t *testing.T) {
	store := &fakeStore{upsertErr: entities.ErrAuthExpired}
	sync := newTestSync(newMemRepo(), store, signedIn(), testSyncConfig())

	_, err := sync.Push(context.Background())
	require.ErrorIs(t, err, entities.ErrAuthExpired)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, store.upsertCount())
}

func TestPullNothingToRestore(t *testing.T) {
	store := &fakeStore{latestErr: entities.ErrNoSnapshot}
	sync := newTestSync(newMemRepo(), store, signedIn(), testSyncConfig())

	result, err := sync.Pull(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.NothingToRestore)
	assert.Zero(t, result.Tasks)
}

func TestPullReplacesSessionPartition(t *testing.T) {
	repo := newMemRepo()
	stale := entities.NewTask("Stale", "")
	require.NoError(t, repo.Add(context.Background(), entities.PartitionSession, stale))

	store := &fakeStore{
		latest: &entities.RawSnapshot{
			Version:   entities.SchemaVersion,
			Timestamp: 1700000000000,
			Tasks: []entities.RawTask{
				{ID: 1, Name: "Remote one", URLPost: "https://example.com/p"},
				{ID: 2, Name: "Remote two"},
			},
			Settings: []entities.Setting{{Key: entities.SettingTheme, Value: entities.ThemeLight}},
		},
	}
	sync := newTestSync(repo, store, signedIn(), testSyncConfig())

	result, err := sync.Pull(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Tasks)
	assert.EqualValues(t, 1700000000000, result.Timestamp)

	tasks, err := repo.List(context.Background(), entities.PartitionSession, "updated_at", true)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.NotEqual(t, "Stale", task.Name)
		assert.NotEmpty(t, task.Media)
	}
}

func TestPullRequiresSession(t *testing.T) {
	sync := newTestSync(newMemRepo(), &fakeStore{}, &fakeSessions{}, testSyncConfig())

	_, err := sync.Pull(context.Background())
	assert.ErrorIs(t, err, entities.ErrNotAuthenticated)
}

// failingClearRepo simulates a local store that cannot accept the
// restored rows.
type failingClearRepo struct {
	*memRepo
}

func (r *failingClearRepo) Clear(ctx context.Context, p entities.Partition) error {
	return errors.New("disk full")
}

func TestPullLocalFailureSurfacesInStatus(t *testing.T) {
	store := &fakeStore{
		latest: &entities.RawSnapshot{
			Version: entities.SchemaVersion,
			Tasks:   []entities.RawTask{{ID: 1, Name: "Remote"}},
		},
	}
	repo := &failingClearRepo{newMemRepo()}
	sync := NewSyncService(repo, newMemSettings(), store, signedIn(), testSyncConfig(), nil, logger.NewNop())

	_, err := sync.Pull(context.Background())
	require.Error(t, err)

	status := sync.Status()
	assert.NotEmpty(t, status.LastError)
	assert.False(t, status.LastSuccess)
}

func TestWaitForPendingDrains(t *testing.T) {
	sync := newTestSync(newMemRepo(), &fakeStore{}, signedIn(), testSyncConfig())

	assert.True(t, sync.WaitForPending(context.Background()))
}

func TestSuccessfulPushClearsRetryState(t *testing.T) {
	store := &fakeStore{upsertErr: errors.New("flaky network")}
	cfg := testSyncConfig()
	cfg.RetryBaseDelay = 30 * time.Millisecond
	sync := newTestSync(newMemRepo(), store, signedIn(), cfg)

	_, err := sync.Push(context.Background())
	require.Error(t, err)

	// Let the first retry succeed.
	store.mu.Lock()
	store.upsertErr = nil
	store.mu.Unlock()

	time.Sleep(200 * time.Millisecond)

	status := sync.Status()
	assert.True(t, status.LastSuccess)
	assert.Empty(t, status.LastError)
	assert.True(t, status.Throttled)
	require.NotNil(t, status.LastSyncAt)
}
