package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/config"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
)

// snapshotRow is the remote table shape: one row per identity, resolved
// on the user_id conflict key.
type snapshotRow struct {
	UserID       string                 `json:"user_id"`
	SnapshotData *entities.Snapshot     `json:"snapshot_data,omitempty"`
	LastUpdated  string                 `json:"last_updated,omitempty"`
	Metadata     *entities.SyncMetadata `json:"metadata,omitempty"`
}

type snapshotDataRow struct {
	SnapshotData entities.RawSnapshot `json:"snapshot_data"`
}

// SnapshotClient talks PostgREST to the remote snapshot table. A client
// built without endpoint configuration is permanently disabled and every
// call on it short-circuits.
type SnapshotClient struct {
	http    *resty.Client
	table   string
	enabled bool
	logger  *logger.Logger
}

// NewSnapshotClient creates the remote snapshot store client.
func NewSnapshotClient(cfg config.SupabaseConfig, log *logger.Logger) *SnapshotClient {
	client := &SnapshotClient{
		table:   cfg.SnapshotTable,
		enabled: cfg.Enabled(),
		logger:  log.WithComponent("snapshot_client"),
	}

	if !client.enabled {
		client.logger.Warn("Remote endpoint not configured, sync disabled")
		return client
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client.http = resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("apikey", cfg.AnonKey).
		SetHeader("Content-Type", "application/json")

	return client
}

// Enabled reports whether the remote endpoint is configured.
func (c *SnapshotClient) Enabled() bool {
	return c.enabled
}

// Upsert writes the snapshot row for the session's identity,
// last-write-wins on the user_id conflict key.
func (c *SnapshotClient) Upsert(ctx context.Context, session *entities.Session, snapshot *entities.Snapshot, meta entities.SyncMetadata) error {
	if !c.enabled {
		return entities.ErrSyncDisabled
	}

	row := snapshotRow{
		UserID:       session.UserID,
		SnapshotData: snapshot,
		LastUpdated:  time.Now().UTC().Format(time.RFC3339),
		Metadata:     &meta,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(session.AccessToken).
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetQueryParam("on_conflict", "user_id").
		SetBody([]snapshotRow{row}).
		Post("/rest/v1/" + c.table)
	if err != nil {
		return fmt.Errorf("upload snapshot: %w: %v", entities.ErrOffline, err)
	}

	if err := classifyStatus(resp.StatusCode()); err != nil {
		c.logger.Errorw("Snapshot upload rejected",
			"status", resp.StatusCode(),
			"body", truncate(resp.String(), 256),
		)
		return fmt.Errorf("upload snapshot: %w", err)
	}

	return nil
}

// Latest fetches the single most recent snapshot row for the session's
// identity. Returns entities.ErrNoSnapshot when the user has never synced.
func (c *SnapshotClient) Latest(ctx context.Context, session *entities.Session) (*entities.RawSnapshot, error) {
	if !c.enabled {
		return nil, entities.ErrSyncDisabled
	}

	var rows []snapshotDataRow

	// The read is side-effect free, so a couple of quick transport-level
	// retries smooth over flaky connections without involving the sync
	// engine's scheduled-retry machinery.
	err := retry.Do(
		func() error {
			resp, err := c.http.R().
				SetContext(ctx).
				SetAuthToken(session.AccessToken).
				SetQueryParam("select", "snapshot_data").
				SetQueryParam("user_id", "eq."+session.UserID).
				SetQueryParam("order", "last_updated.desc").
				SetQueryParam("limit", "1").
				SetResult(&rows).
				Get("/rest/v1/" + c.table)
			if err != nil {
				return fmt.Errorf("%w: %v", entities.ErrOffline, err)
			}
			if err := classifyStatus(resp.StatusCode()); err != nil {
				return err
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(500*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			// Auth failures won't heal on retry.
			return !isAuthError(err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	if len(rows) == 0 {
		return nil, entities.ErrNoSnapshot
	}

	return &rows[0].SnapshotData, nil
}

// classifyStatus maps HTTP statuses to the error taxonomy.
func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return entities.ErrAuthExpired
	case status >= 500:
		return fmt.Errorf("%w: status %d", entities.ErrRemoteServer, status)
	default:
		return fmt.Errorf("%w: status %d", entities.ErrRemoteServer, status)
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, entities.ErrAuthExpired)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
