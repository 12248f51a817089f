package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/config"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
	"github.com/ndyanx/prompt-studio/internal/ports"
)

// SyncMetrics counts sync engine activity.
type SyncMetrics struct {
	Pushes   *prometheus.CounterVec
	Pulls    *prometheus.CounterVec
	Retries  prometheus.Counter
	Duration prometheus.Histogram
}

// NewSyncMetrics registers sync metrics on the given registry.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_pushes_total",
			Help: "Snapshot uploads by outcome",
		}, []string{"outcome"}),
		Pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_pulls_total",
			Help: "Snapshot downloads by outcome",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_retries_scheduled_total",
			Help: "Push retries scheduled after a failure",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_push_duration_seconds",
			Help:    "Snapshot upload duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.Pushes, m.Pulls, m.Retries, m.Duration)
	return m
}

func (m *SyncMetrics) countPush(outcome string) {
	if m != nil {
		m.Pushes.WithLabelValues(outcome).Inc()
	}
}

func (m *SyncMetrics) countPull(outcome string) {
	if m != nil {
		m.Pulls.WithLabelValues(outcome).Inc()
	}
}

// SyncService is the remote sync engine. Pushes are manual only and pass
// through a throttle window; failed pushes retry on an exponential
// schedule that the sign-out path can cancel wholesale. A single syncing
// flag makes push and pull mutually exclusive.
type SyncService struct {
	tasks    ports.TaskRepository
	settings ports.SettingsRepository
	store    ports.SnapshotStore
	sessions ports.SessionProvider
	cfg      config.SyncConfig
	logger   *logger.Logger
	metrics  *SyncMetrics

	deviceID string
	hostname string

	pending int64

	mu             sync.Mutex
	syncing        bool
	offline        bool
	throttledUntil time.Time
	lastSyncAt     *time.Time
	lastErr        error
	lastSuccess    bool
	retryCount     int
	retryTimers    map[*time.Timer]struct{}
}

// NewSyncService creates a new sync service. Metrics may be nil.
func NewSyncService(
	tasks ports.TaskRepository,
	settings ports.SettingsRepository,
	store ports.SnapshotStore,
	sessions ports.SessionProvider,
	cfg config.SyncConfig,
	metrics *SyncMetrics,
	log *logger.Logger,
) *SyncService {
	hostname, _ := os.Hostname()
	return &SyncService{
		tasks:       tasks,
		settings:    settings,
		store:       store,
		sessions:    sessions,
		cfg:         cfg,
		logger:      log.WithComponent("sync"),
		metrics:     metrics,
		deviceID:    uuid.NewString(),
		hostname:    hostname,
		retryTimers: map[*time.Timer]struct{}{},
	}
}

// Push uploads a snapshot of the session partition. This is the only way
// a sync starts; nothing in the system triggers it automatically. A push
// inside the throttle window is rejected with the remaining cooldown, and
// a manual push always resets the retry budget.
func (s *SyncService) Push(ctx context.Context) (*ports.SyncResult, error) {
	if !s.store.Enabled() {
		return nil, entities.ErrSyncDisabled
	}

	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, entities.ErrSyncInProgress
	}
	if remaining := time.Until(s.throttledUntil); remaining > 0 {
		s.mu.Unlock()
		s.metrics.countPush("throttled")
		return nil, &entities.ThrottledError{Remaining: remaining}
	}
	if s.offline {
		s.mu.Unlock()
		return nil, entities.ErrOffline
	}
	s.retryCount = 0
	s.cancelRetriesLocked()
	s.syncing = true
	s.mu.Unlock()

	return s.attemptPush(ctx, "manual")
}

// attemptPush performs one upload. The caller must have set the syncing
// flag; it is released here.
func (s *SyncService) attemptPush(ctx context.Context, method string) (*ports.SyncResult, error) {
	atomic.AddInt64(&s.pending, 1)
	defer atomic.AddInt64(&s.pending, -1)
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	session, err := s.sessions.Session(ctx)
	if err != nil {
		s.recordFailure(err)
		s.metrics.countPush("auth_error")
		return nil, err
	}
	if session == nil {
		s.recordFailure(entities.ErrNotAuthenticated)
		s.metrics.countPush("auth_error")
		return nil, entities.ErrNotAuthenticated
	}

	snapshot, err := s.buildSnapshot(ctx)
	if err != nil {
		s.recordFailure(err)
		s.metrics.countPush("local_error")
		return nil, err
	}

	meta := entities.SyncMetadata{
		DeviceID:   s.deviceID,
		Hostname:   s.hostname,
		SyncMethod: method,
	}

	start := time.Now()
	if err := s.store.Upsert(ctx, session, snapshot, meta); err != nil {
		s.recordFailure(err)
		s.metrics.countPush("error")
		s.maybeScheduleRetry(err)
		return nil, err
	}

	now := time.Now()
	s.mu.Lock()
	s.lastSyncAt = &now
	s.lastSuccess = true
	s.lastErr = nil
	s.retryCount = 0
	s.throttledUntil = now.Add(s.cfg.ThrottleWindow)
	s.mu.Unlock()

	// The success flag is a display surface; it fades on its own.
	time.AfterFunc(successDisplayTime, func() {
		s.mu.Lock()
		if s.lastSyncAt == &now {
			s.lastSuccess = false
		}
		s.mu.Unlock()
	})

	if s.metrics != nil {
		s.metrics.Duration.Observe(time.Since(start).Seconds())
	}
	s.metrics.countPush("success")
	s.logger.LogSyncEvent("push", session.UserID, map[string]interface{}{
		"tasks":  len(snapshot.Tasks),
		"method": method,
	})

	return &ports.SyncResult{Success: true, Tasks: len(snapshot.Tasks)}, nil
}

// buildSnapshot captures the session partition and settings as one
// document.
func (s *SyncService) buildSnapshot(ctx context.Context) (*entities.Snapshot, error) {
	tasks, err := s.tasks.List(ctx, entities.PartitionSession, "updated_at", true)
	if err != nil {
		return nil, fmt.Errorf("snapshot tasks: %w", err)
	}

	settings, err := s.settings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot settings: %w", err)
	}

	return &entities.Snapshot{
		Version:   entities.SchemaVersion,
		Timestamp: time.Now().UnixMilli(),
		Tasks:     tasks,
		Settings:  settings,
		Stats:     entities.SnapshotStats{TotalTasks: len(tasks)},
	}, nil
}

// Pull downloads the latest snapshot and replaces the session partition
// with its contents. A user who has never pushed gets a successful
// nothing-to-restore result, not an error.
func (s *SyncService) Pull(ctx context.Context) (*ports.RestoreResult, error) {
	if !s.store.Enabled() {
		return nil, entities.ErrSyncDisabled
	}

	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return nil, entities.ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()

	atomic.AddInt64(&s.pending, 1)
	defer atomic.AddInt64(&s.pending, -1)
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	session, err := s.sessions.Session(ctx)
	if err != nil {
		s.metrics.countPull("auth_error")
		return nil, err
	}
	if session == nil {
		s.metrics.countPull("auth_error")
		return nil, entities.ErrNotAuthenticated
	}

	raw, err := s.store.Latest(ctx, session)
	if err != nil {
		if errors.Is(err, entities.ErrNoSnapshot) {
			s.metrics.countPull("empty")
			return &ports.RestoreResult{Success: true, NothingToRestore: true}, nil
		}
		s.recordFailure(err)
		s.metrics.countPull("error")
		return nil, err
	}

	restored := make([]*entities.Task, 0, len(raw.Tasks))
	for _, rt := range raw.Tasks {
		restored = append(restored, entities.Normalize(rt))
	}

	if err := s.tasks.Clear(ctx, entities.PartitionSession); err != nil {
		err = fmt.Errorf("restore: %w", err)
		s.recordFailure(err)
		s.metrics.countPull("error")
		return nil, err
	}
	if err := s.tasks.BulkAdd(ctx, entities.PartitionSession, restored); err != nil {
		err = fmt.Errorf("restore: %w", err)
		s.recordFailure(err)
		s.metrics.countPull("error")
		return nil, err
	}
	for _, setting := range raw.Settings {
		st := setting
		if err := s.settings.Put(ctx, &st); err != nil {
			s.logger.Warnw("Restored setting not applied", "key", st.Key, "error", err)
		}
	}

	s.metrics.countPull("success")
	s.logger.LogSyncEvent("pull", session.UserID, map[string]interface{}{
		"tasks": len(restored),
	})

	return &ports.RestoreResult{
		Success:   true,
		Tasks:     len(restored),
		Timestamp: raw.Timestamp.Int64(),
	}, nil
}

const successDisplayTime = 2 * time.Second

func (s *SyncService) recordFailure(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.lastSuccess = false
	s.mu.Unlock()

	if s.cfg.ErrorDisplayTime > 0 {
		time.AfterFunc(s.cfg.ErrorDisplayTime, func() {
			s.mu.Lock()
			if s.lastErr == err {
				s.lastErr = nil
			}
			s.mu.Unlock()
		})
	}
}

// maybeScheduleRetry books a delayed push attempt after a failure.
// Auth failures never retry: a dead token will not revive. The delay
// doubles per attempt up to a fixed ceiling.
func (s *SyncService) maybeScheduleRetry(cause error) {
	if errors.Is(cause, entities.ErrAuthExpired) || errors.Is(cause, entities.ErrNotAuthenticated) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.retryCount >= s.cfg.MaxRetries {
		s.logger.Errorw("Sync retries exhausted", "attempts", s.retryCount, "error", cause)
		return
	}

	delay := s.cfg.RetryBaseDelay << uint(s.retryCount)
	if delay > s.cfg.RetryMaxDelay {
		delay = s.cfg.RetryMaxDelay
	}
	s.retryCount++

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.retryTimers, timer)
		if s.syncing || s.offline {
			s.mu.Unlock()
			return
		}
		s.syncing = true
		s.mu.Unlock()

		if _, err := s.attemptPush(context.Background(), "retry"); err != nil {
			s.logger.Warnw("Retry push failed", "error", err)
		}
	})
	s.retryTimers[timer] = struct{}{}

	if s.metrics != nil {
		s.metrics.Retries.Inc()
	}
	s.logger.Infow("Sync retry scheduled", "attempt", s.retryCount, "delay", delay.String())
}

// ResetTransient cancels every scheduled retry and clears the throttle
// and error state. Called on sign-out so no timer fires into a dead
// session.
func (s *SyncService) ResetTransient() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelRetriesLocked()
	s.retryCount = 0
	s.throttledUntil = time.Time{}
	s.lastErr = nil
}

func (s *SyncService) cancelRetriesLocked() {
	for timer := range s.retryTimers {
		timer.Stop()
		delete(s.retryTimers, timer)
	}
}

// SetNetwork records reachability. Scheduled retries that fire while
// offline skip silently; coming back online clears the lingering error
// so the status surface reflects the recovered connection.
func (s *SyncService) SetNetwork(online bool) {
	s.mu.Lock()
	changed := s.offline == online
	s.offline = !online
	if online {
		s.lastErr = nil
	}
	s.mu.Unlock()

	if changed {
		s.logger.Infow("Network state changed", "online", online)
	}
}

// Pending reports in-flight sync operations.
func (s *SyncService) Pending() int {
	return int(atomic.LoadInt64(&s.pending))
}

// WaitForPending polls until no sync operation is in flight or the
// configured wait budget runs out. It returns true when the engine
// drained; callers proceed either way, this is a courtesy window.
func (s *SyncService) WaitForPending(ctx context.Context) bool {
	deadline := time.Now().Add(s.cfg.PendingWaitTimeout)
	interval := s.cfg.PendingPollInterval
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	for {
		if atomic.LoadInt64(&s.pending) == 0 {
			return true
		}
		if time.Now().After(deadline) {
			s.logger.Warnw("Pending sync operations did not drain in time",
				"pending", atomic.LoadInt64(&s.pending),
			)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// Status reports the engine's observable state.
func (s *SyncService) Status() ports.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ports.SyncStatus{
		Syncing:     s.syncing,
		Offline:     s.offline,
		LastSyncAt:  s.lastSyncAt,
		LastSuccess: s.lastSuccess,
		Pending:     int(atomic.LoadInt64(&s.pending)),
	}
	if remaining := time.Until(s.throttledUntil); remaining > 0 {
		status.Throttled = true
		status.ThrottleRemaining = int(remaining.Seconds() + 0.5)
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}
