package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/ports"
)

// taskRow is the storage shape: colors and media persist as JSON columns.
type taskRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Prompt    string `db:"prompt"`
	Colors    []byte `db:"colors"`
	Media     []byte `db:"media"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func rowFromTask(t *entities.Task) (*taskRow, error) {
	colors, err := json.Marshal(t.Colors)
	if err != nil {
		return nil, fmt.Errorf("marshal colors: %w", err)
	}
	media, err := json.Marshal(t.Media)
	if err != nil {
		return nil, fmt.Errorf("marshal media: %w", err)
	}
	return &taskRow{
		ID:        t.ID,
		Name:      t.Name,
		Prompt:    t.Prompt,
		Colors:    colors,
		Media:     media,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

// toTask decodes a row and runs it through the normalizer, so even rows
// written by an older build come back in the canonical shape.
func (r *taskRow) toTask() (*entities.Task, error) {
	raw := entities.RawTask{
		ID:        r.ID,
		Name:      r.Name,
		Prompt:    r.Prompt,
		CreatedAt: entities.EpochMillis(r.CreatedAt),
		UpdatedAt: entities.EpochMillis(r.UpdatedAt),
	}
	if len(r.Colors) > 0 {
		if err := json.Unmarshal(r.Colors, &raw.Colors); err != nil {
			return nil, fmt.Errorf("unmarshal colors: %w", err)
		}
	}
	if len(r.Media) > 0 {
		if err := json.Unmarshal(r.Media, &raw.Media); err != nil {
			return nil, fmt.Errorf("unmarshal media: %w", err)
		}
	}
	return entities.Normalize(raw), nil
}

// TaskRepositoryImpl implements the TaskRepository interface over SQLite,
// one table per partition.
type TaskRepositoryImpl struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sqlx.DB) ports.TaskRepository {
	return &TaskRepositoryImpl{db: db}
}

func (r *TaskRepositoryImpl) Add(ctx context.Context, p entities.Partition, task *entities.Task) error {
	row, err := rowFromTask(task)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, prompt, colors, media, created_at, updated_at)
		VALUES (:id, :name, :prompt, :colors, :media, :created_at, :updated_at)`,
		p.Table())

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("add task to %s: %w", p.Table(), err)
	}

	return nil
}

func (r *TaskRepositoryImpl) Put(ctx context.Context, p entities.Partition, task *entities.Task) error {
	row, err := rowFromTask(task)
	if err != nil {
		return err
	}

	// Upsert by id: last write wins, matching the autosave pipeline's
	// reliance on store semantics instead of locking.
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, prompt, colors, media, created_at, updated_at)
		VALUES (:id, :name, :prompt, :colors, :media, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			prompt = excluded.prompt,
			colors = excluded.colors,
			media = excluded.media,
			updated_at = excluded.updated_at`,
		p.Table())

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("put task into %s: %w", p.Table(), err)
	}

	return nil
}

func (r *TaskRepositoryImpl) Delete(ctx context.Context, p entities.Partition, id int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, p.Table())

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete task from %s: %w", p.Table(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task from %s: %w", p.Table(), err)
	}
	if affected == 0 {
		return entities.ErrTaskNotFound
	}

	return nil
}

func (r *TaskRepositoryImpl) Clear(ctx context.Context, p entities.Partition) error {
	query := fmt.Sprintf(`DELETE FROM %s`, p.Table())

	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("clear %s: %w", p.Table(), err)
	}

	return nil
}

func (r *TaskRepositoryImpl) Count(ctx context.Context, p entities.Partition) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.Table())

	var count int64
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count %s: %w", p.Table(), err)
	}

	return count, nil
}

func (r *TaskRepositoryImpl) List(ctx context.Context, p entities.Partition, orderBy string, desc bool) ([]*entities.Task, error) {
	column := sortColumn(orderBy)
	direction := "ASC"
	if desc {
		direction = "DESC"
	}

	query := fmt.Sprintf(`
		SELECT id, name, prompt, colors, media, created_at, updated_at
		FROM %s
		ORDER BY %s %s`,
		p.Table(), column, direction)

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list %s: %w", p.Table(), err)
	}

	tasks := make([]*entities.Task, 0, len(rows))
	for i := range rows {
		task, err := rows[i].toTask()
		if err != nil {
			return nil, fmt.Errorf("decode task %d: %w", rows[i].ID, err)
		}
		tasks = append(tasks, task)
	}

	return tasks, nil
}

func (r *TaskRepositoryImpl) BulkAdd(ctx context.Context, p entities.Partition, tasks []*entities.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk add to %s: %w", p.Table(), err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, prompt, colors, media, created_at, updated_at)
		VALUES (:id, :name, :prompt, :colors, :media, :created_at, :updated_at)`,
		p.Table())

	for _, task := range tasks {
		row, err := rowFromTask(task)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
			return fmt.Errorf("bulk add task %d to %s: %w", task.ID, p.Table(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bulk add to %s: %w", p.Table(), err)
	}

	return nil
}

// sortColumn whitelists order-by columns; anything else falls back to the
// modification timestamp.
func sortColumn(orderBy string) string {
	switch orderBy {
	case "name", "created_at", "updated_at":
		return orderBy
	default:
		return "updated_at"
	}
}
