package services

import (
	"context"
	"fmt"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
	"github.com/ndyanx/prompt-studio/internal/ports"
)

// PartitionRouter decides which task partition an operation targets based
// on the current authentication state, and heals orphaned session data.
type PartitionRouter struct {
	sessions ports.SessionProvider
	tasks    ports.TaskRepository
	logger   *logger.Logger
}

// NewPartitionRouter creates a new partition router
func NewPartitionRouter(sessions ports.SessionProvider, tasks ports.TaskRepository, log *logger.Logger) *PartitionRouter {
	return &PartitionRouter{
		sessions: sessions,
		tasks:    tasks,
		logger:   log.WithComponent("router"),
	}
}

// ActivePartition resolves the partition for the current auth state. When
// no session exists it also sweeps orphans, so a read of the offline list
// never coexists with stale session-scoped rows.
func (r *PartitionRouter) ActivePartition(ctx context.Context) (entities.Partition, error) {
	session, err := r.sessions.Session(ctx)
	if err != nil || session == nil {
		if swept, sweepErr := r.SweepOrphans(ctx); sweepErr != nil {
			return entities.PartitionOffline, sweepErr
		} else if swept > 0 {
			r.logger.Warnw("Cleared orphaned session tasks", "count", swept)
		}
		return entities.PartitionOffline, nil
	}
	return entities.PartitionSession, nil
}

// SweepOrphans wipes the session partition when it holds data without an
// authenticated session backing it, which happens when external credential
// storage is cleared behind our back. Self-healing: logged as a warning,
// never surfaced as an error to the user.
func (r *PartitionRouter) SweepOrphans(ctx context.Context) (int64, error) {
	session, err := r.sessions.Session(ctx)
	if err == nil && session != nil {
		return 0, nil
	}

	count, err := r.tasks.Count(ctx, entities.PartitionSession)
	if err != nil {
		return 0, fmt.Errorf("orphan check: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := r.tasks.Clear(ctx, entities.PartitionSession); err != nil {
		return 0, fmt.Errorf("orphan sweep: %w", err)
	}

	return count, nil
}
