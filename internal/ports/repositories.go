package ports

import (
	"context"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
)

// TaskRepository defines partition-scoped task storage operations.
type TaskRepository interface {
	Add(ctx context.Context, p entities.Partition, task *entities.Task) error
	Put(ctx context.Context, p entities.Partition, task *entities.Task) error
	Delete(ctx context.Context, p entities.Partition, id int64) error
	Clear(ctx context.Context, p entities.Partition) error
	Count(ctx context.Context, p entities.Partition) (int64, error)
	List(ctx context.Context, p entities.Partition, orderBy string, desc bool) ([]*entities.Task, error)
	BulkAdd(ctx context.Context, p entities.Partition, tasks []*entities.Task) error
}

// SettingsRepository defines key-value settings storage.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (*entities.Setting, error)
	Put(ctx context.Context, setting *entities.Setting) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]entities.Setting, error)
}

// SnapshotStore is the remote snapshot boundary: one document per
// authenticated identity, upserted last-write-wins on the identity key.
type SnapshotStore interface {
	// Enabled reports whether the remote endpoint is configured at all.
	// A disabled store turns sync into a local-only no-op.
	Enabled() bool
	Upsert(ctx context.Context, session *entities.Session, snapshot *entities.Snapshot, meta entities.SyncMetadata) error
	// Latest returns the most recent snapshot for the identity, or
	// entities.ErrNoSnapshot when the user has never uploaded one.
	Latest(ctx context.Context, session *entities.Session) (*entities.RawSnapshot, error)
}

// SessionProvider exposes the current authentication state. A nil session
// with a nil error means signed out; entities.ErrAuthExpired is returned
// when a token is present but lapsed.
type SessionProvider interface {
	Session(ctx context.Context) (*entities.Session, error)
}
