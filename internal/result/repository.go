package result

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"slide_analyzer/internal/utils"

	"github.com/sirupsen/logrus"
)

var ErrResultNotFound = errors.New("result not found")

type ResultRepositoryInterface interface {
	// Upsert updates the freshest row with the same filename in place, or
	// inserts a new row. r.ID is set to the persisted id.
	Upsert(ctx context.Context, r *Result) error
	GetByID(ctx context.Context, id int64) (*Result, error)
	GetByTaskID(ctx context.Context, taskID string) (*Result, error)
	GetByFilename(ctx context.Context, filename string) (*Result, error)
	ListByFilename(ctx context.Context, filename string) ([]*Result, error)
	ListByFilenamePrefix(ctx context.Context, prefix string) ([]*Result, error)
	List(ctx context.Context) ([]*Result, error)
	// AttachTask links a result to a task only if it has no task yet.
	// It reports whether the link was written.
	AttachTask(ctx context.Context, resultID int64, taskID string) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type ResultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) ResultRepositoryInterface {
	return &ResultRepository{db: db}
}

const resultColumns = `
	id, filename, result_image_path, overlay_image_path,
	cell_count, cell_area, total_area, cell_ratio, avg_cell_size,
	analyzed_at, task_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*Result, error) {
	var r Result
	err := row.Scan(
		&r.ID,
		&r.Filename,
		&r.ResultImagePath,
		&r.OverlayImagePath,
		&r.Metrics.CellCount,
		&r.Metrics.CellArea,
		&r.Metrics.TotalArea,
		&r.Metrics.CellRatio,
		&r.Metrics.AvgCellSize,
		&r.AnalyzedAt,
		&r.TaskID,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (repo *ResultRepository) Upsert(ctx context.Context, r *Result) error {
	return utils.WithTransaction(ctx, repo.db, func(tx *sql.Tx) error {
		// Row locks cover existing rows only; the advisory lock also
		// serializes two first-time upserts of the same filename.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.Filename); err != nil {
			return err
		}

		var existingID int64
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM analysis_results
			WHERE filename = $1
			ORDER BY analyzed_at DESC, id DESC
			LIMIT 1
			FOR UPDATE
		`, r.Filename).Scan(&existingID)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = tx.QueryRowContext(ctx, `
				INSERT INTO analysis_results (
					filename, result_image_path, overlay_image_path,
					cell_count, cell_area, total_area, cell_ratio, avg_cell_size,
					analyzed_at, task_id
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id
			`,
				r.Filename,
				r.ResultImagePath,
				r.OverlayImagePath,
				r.Metrics.CellCount,
				r.Metrics.CellArea,
				r.Metrics.TotalArea,
				r.Metrics.CellRatio,
				r.Metrics.AvgCellSize,
				r.AnalyzedAt,
				r.TaskID,
			).Scan(&r.ID)
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"result_id": r.ID,
				"filename":  r.Filename,
			}).Info("Inserted analysis result")
			return nil

		case err != nil:
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE analysis_results
			SET result_image_path = $1,
			    overlay_image_path = $2,
			    cell_count = $3,
			    cell_area = $4,
			    total_area = $5,
			    cell_ratio = $6,
			    avg_cell_size = $7,
			    analyzed_at = $8,
			    task_id = COALESCE($9, task_id)
			WHERE id = $10
		`,
			r.ResultImagePath,
			r.OverlayImagePath,
			r.Metrics.CellCount,
			r.Metrics.CellArea,
			r.Metrics.TotalArea,
			r.Metrics.CellRatio,
			r.Metrics.AvgCellSize,
			r.AnalyzedAt,
			r.TaskID,
			existingID,
		)
		if err != nil {
			return err
		}
		r.ID = existingID
		logrus.WithFields(logrus.Fields{
			"result_id": r.ID,
			"filename":  r.Filename,
		}).Info("Updated analysis result")
		return nil
	})
}

func (repo *ResultRepository) getOne(ctx context.Context, where string, arg any) (*Result, error) {
	query := `SELECT ` + resultColumns + ` FROM analysis_results WHERE ` + where +
		` ORDER BY analyzed_at DESC, id DESC LIMIT 1`

	r, err := scanResult(repo.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return r, nil
}

func (repo *ResultRepository) GetByID(ctx context.Context, id int64) (*Result, error) {
	return repo.getOne(ctx, "id = $1", id)
}

func (repo *ResultRepository) GetByTaskID(ctx context.Context, taskID string) (*Result, error) {
	return repo.getOne(ctx, "task_id = $1", taskID)
}

func (repo *ResultRepository) GetByFilename(ctx context.Context, filename string) (*Result, error) {
	return repo.getOne(ctx, "filename = $1", filename)
}

func (repo *ResultRepository) list(ctx context.Context, where string, args ...any) ([]*Result, error) {
	query := `SELECT ` + resultColumns + ` FROM analysis_results`
	if where != "" {
		query += ` WHERE ` + where
	}
	query += ` ORDER BY analyzed_at DESC, id DESC`

	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]*Result, 0)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			logrus.Error("Error scanning result row: ", err)
			continue
		}
		results = append(results, r)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (repo *ResultRepository) ListByFilename(ctx context.Context, filename string) ([]*Result, error) {
	return repo.list(ctx, "filename = $1", filename)
}

func (repo *ResultRepository) ListByFilenamePrefix(ctx context.Context, prefix string) ([]*Result, error) {
	return repo.list(ctx, `filename LIKE $1 ESCAPE '\'`, escapeLike(prefix)+"%")
}

func (repo *ResultRepository) List(ctx context.Context) ([]*Result, error) {
	return repo.list(ctx, "")
}

func (repo *ResultRepository) AttachTask(ctx context.Context, resultID int64, taskID string) (bool, error) {
	res, err := repo.db.ExecContext(ctx, `
		UPDATE analysis_results
		SET task_id = $1
		WHERE id = $2 AND task_id IS NULL
	`, taskID, resultID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (repo *ResultRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
