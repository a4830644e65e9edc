package task

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sirupsen/logrus"
)

var ErrTaskNotFound = errors.New("task not found")

type TaskRepositoryInterface interface {
	Create(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, task *Task) error
	FindLatestByRequestedName(ctx context.Context, name string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
}

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) TaskRepositoryInterface {
	return &TaskRepository{db: db}
}

const taskColumns = `
	id, requested_name, resolved_name, state, progress_note,
	error_detail, created_at, completed_at, result_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t     Task
		state string
	)
	err := row.Scan(
		&t.ID,
		&t.RequestedName,
		&t.ResolvedName,
		&state,
		&t.ProgressNote,
		&t.ErrorDetail,
		&t.CreatedAt,
		&t.CompletedAt,
		&t.ResultID,
	)
	if err != nil {
		return nil, err
	}
	t.State = State(state)
	return &t, nil
}

func (r *TaskRepository) Create(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO analysis_tasks (
			id, requested_name, resolved_name, state, progress_note,
			error_detail, created_at, completed_at, result_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.RequestedName,
		task.ResolvedName,
		string(task.State),
		task.ProgressNote,
		task.ErrorDetail,
		task.CreatedAt,
		task.CompletedAt,
		task.ResultID,
	)
	if err != nil {
		logrus.WithError(err).WithField("task_id", task.ID).Error("Failed to create task")
		return err
	}

	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks WHERE id = $1`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	return t, nil
}

// Update overwrites every mutable column of the task row.
func (r *TaskRepository) Update(ctx context.Context, task *Task) error {
	query := `
		UPDATE analysis_tasks
		SET resolved_name = $1,
		    state = $2,
		    progress_note = $3,
		    error_detail = $4,
		    completed_at = $5,
		    result_id = $6
		WHERE id = $7
	`

	res, err := r.db.ExecContext(ctx, query,
		task.ResolvedName,
		string(task.State),
		task.ProgressNote,
		task.ErrorDetail,
		task.CompletedAt,
		task.ResultID,
		task.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrTaskNotFound
	}

	return nil
}

func (r *TaskRepository) FindLatestByRequestedName(ctx context.Context, name string) (*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM analysis_tasks
		WHERE requested_name = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	return t, nil
}

func (r *TaskRepository) List(ctx context.Context) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM analysis_tasks ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			logrus.Error("Error scanning task row: ", err)
			continue
		}
		tasks = append(tasks, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return tasks, nil
}
