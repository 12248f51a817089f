package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/ports"
)

// SettingsRepositoryImpl implements the SettingsRepository interface.
type SettingsRepositoryImpl struct {
	db *sqlx.DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *sqlx.DB) ports.SettingsRepository {
	return &SettingsRepositoryImpl{db: db}
}

func (r *SettingsRepositoryImpl) Get(ctx context.Context, key string) (*entities.Setting, error) {
	query := `SELECT key, value FROM settings WHERE key = ?`

	var setting entities.Setting
	if err := r.db.GetContext(ctx, &setting, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}

	return &setting, nil
}

func (r *SettingsRepositoryImpl) Put(ctx context.Context, setting *entities.Setting) error {
	query := `
		INSERT INTO settings (key, value)
		VALUES (:key, :value)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`

	if _, err := r.db.NamedExecContext(ctx, query, setting); err != nil {
		return fmt.Errorf("put setting %q: %w", setting.Key, err)
	}

	return nil
}

func (r *SettingsRepositoryImpl) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM settings WHERE key = ?`

	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}

	return nil
}

func (r *SettingsRepositoryImpl) List(ctx context.Context) ([]entities.Setting, error) {
	query := `SELECT key, value FROM settings ORDER BY key`

	var settings []entities.Setting
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}

	return settings, nil
}
