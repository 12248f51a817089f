package services

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/config"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
	"github.com/ndyanx/prompt-studio/internal/ports"
)

// TokenStore is the writable side of session state: the coordinator
// installs and clears the externally obtained access token.
type TokenStore interface {
	ports.SessionProvider
	SetToken(token string) (*entities.Session, error)
	Clear()
}

// SessionService coordinates the sign-in and sign-out transitions between
// the workspace, the sync engine, and the partition router. It owns the
// ordering rules: restore before reload, drain before wipe.
type SessionService struct {
	tokens    TokenStore
	sync      *SyncService
	router    *PartitionRouter
	tasks     ports.TaskRepository
	cfg       config.SyncConfig
	logger    *logger.Logger
	handlers  []EventHandler
	transient int32
}

// NewSessionService creates a new session service
func NewSessionService(
	tokens TokenStore,
	syncSvc *SyncService,
	router *PartitionRouter,
	tasks ports.TaskRepository,
	cfg config.SyncConfig,
	log *logger.Logger,
) *SessionService {
	return &SessionService{
		tokens: tokens,
		sync:   syncSvc,
		router: router,
		tasks:  tasks,
		cfg:    cfg,
		logger: log.WithComponent("session"),
	}
}

// RegisterHandler subscribes to transition events. Not safe to call after
// transitions have started; wire everything up at startup.
func (s *SessionService) RegisterHandler(h EventHandler) {
	s.handlers = append(s.handlers, h)
}

func (s *SessionService) emit(event Event) {
	s.logger.Infow("Emitting event", "event", event.String())
	for _, h := range s.handlers {
		h(event)
	}
}

// Startup resolves the initial state: resume an existing session the same
// way a fresh sign-in would, or settle into the offline partition.
func (s *SessionService) Startup(ctx context.Context) error {
	session, err := s.tokens.Session(ctx)
	if err != nil {
		s.logger.Warnw("Stored session unusable, starting signed out", "error", err)
		s.tokens.Clear()
		session = nil
	}

	if session != nil {
		return s.restoreAndAnnounce(ctx, session)
	}

	if swept, err := s.router.SweepOrphans(ctx); err != nil {
		return fmt.Errorf("startup sweep: %w", err)
	} else if swept > 0 {
		s.logger.Warnw("Cleared orphaned session tasks at startup", "count", swept)
	}

	count, err := s.tasks.Count(ctx, entities.PartitionOffline)
	if err != nil {
		return fmt.Errorf("startup count: %w", err)
	}
	if count == 0 {
		s.emit(EventCreateDefault)
	} else {
		s.emit(EventRestored)
	}
	return nil
}

// HandleSignIn installs the token and restores the remote snapshot into
// the session partition. Concurrent invocations collapse to one; the
// loser returns without doing anything.
func (s *SessionService) HandleSignIn(ctx context.Context, accessToken string) error {
	if !atomic.CompareAndSwapInt32(&s.transient, 0, 1) {
		s.logger.Warn("Sign-in already in progress, ignoring")
		return nil
	}
	defer atomic.StoreInt32(&s.transient, 0)

	session, err := s.tokens.SetToken(accessToken)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	s.logger.Infow("Signed in", "user_id", session.UserID)
	return s.restoreAndAnnounce(ctx, session)
}

// restoreAndAnnounce pulls the remote snapshot and tells the workspace
// what happened. A restore failure is not a sign-in failure: the user
// stays signed in against whatever the session partition already holds.
func (s *SessionService) restoreAndAnnounce(ctx context.Context, session *entities.Session) error {
	restored, err := s.sync.Pull(ctx)
	if err != nil {
		s.logger.Errorw("Snapshot restore failed", "user_id", session.UserID, "error", err)
		return s.announceFromLocal(ctx)
	}

	if restored.NothingToRestore {
		return s.announceFromLocal(ctx)
	}

	if restored.Tasks > 0 {
		s.emit(EventRestored)
		return nil
	}

	// Snapshot existed but was empty.
	return s.announceFromLocal(ctx)
}

// announceFromLocal decides between restore and default-create by what
// the session partition actually holds.
func (s *SessionService) announceFromLocal(ctx context.Context) error {
	count, err := s.tasks.Count(ctx, entities.PartitionSession)
	if err != nil {
		return fmt.Errorf("session count: %w", err)
	}
	if count == 0 {
		s.emit(EventCreateDefault)
	} else {
		s.emit(EventRestored)
	}
	return nil
}

// SignOutFunc wipes session-scoped workspace state. Injected to keep the
// coordinator free of a workspace dependency cycle.
type SignOutFunc func(ctx context.Context) error

// HandleSignOut tears the session down in strict order: drain in-flight
// sync work, cancel timers that would fire into a dead session, drop the
// token, wipe the session partition, and only then let listeners reload.
// The short grace delay lets any stragglers observe the cleared state.
func (s *SessionService) HandleSignOut(ctx context.Context, clearWorkspace SignOutFunc) error {
	if !atomic.CompareAndSwapInt32(&s.transient, 0, 1) {
		s.logger.Warn("Sign-out already in progress, ignoring")
		return nil
	}
	defer atomic.StoreInt32(&s.transient, 0)

	s.sync.WaitForPending(ctx)
	s.sync.ResetTransient()
	s.tokens.Clear()

	if err := clearWorkspace(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}

	if s.cfg.SignOutGraceDelay > 0 {
		time.Sleep(s.cfg.SignOutGraceDelay)
	}

	s.logger.Info("Signed out")
	s.emit(EventRestored)
	return nil
}

// HandleNetwork forwards reachability changes to the sync engine.
func (s *SessionService) HandleNetwork(online bool) {
	s.sync.SetNetwork(online)
}
