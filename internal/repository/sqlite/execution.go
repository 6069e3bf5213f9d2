package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/code-ingest/internal/apperror"
	"github.com/sakif/code-ingest/internal/model"
	"github.com/sakif/code-ingest/internal/repository"
)

var _ repository.ExecutionRepository = (*DB)(nil)

// Create inserts a journal row for a freshly launched (or failed) execution.
// ID and StartedAt are filled in when empty.
func (db *DB) Create(ctx context.Context, exec *model.Execution) error {
	if exec.ID == "" {
		exec.ID = xid.New().String()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now()
	}
	if exec.Outcome == "" {
		exec.Outcome = model.OutcomeRunning
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO executions (id, token, interpreter, setup_id, outcome, exit_code, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.Token,
		exec.Interpreter,
		exec.SetupID,
		string(exec.Outcome),
		nullInt(exec.ExitCode),
		exec.StartedAt,
		nullTime(exec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating execution %s: %w", exec.Token, err)
	}
	return nil
}

// Finish records how an execution left the registry. Only the first call
// for a token takes effect; later ones report NotFound.
func (db *DB) Finish(ctx context.Context, token string, outcome model.Outcome, exitCode *int, finishedAt time.Time) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE executions
		 SET outcome = ?, exit_code = ?, finished_at = ?
		 WHERE token = ? AND finished_at IS NULL`,
		string(outcome),
		nullInt(exitCode),
		finishedAt,
		token,
	)
	if err != nil {
		return fmt.Errorf("sqlite: finishing execution %s: %w", token, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("execution", token)
	}
	return nil
}

// List returns journal rows, newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Execution, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, token, interpreter, setup_id, outcome, exit_code, started_at, finished_at
		 FROM executions
		 ORDER BY started_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing executions: %w", err)
	}
	defer rows.Close()

	out := make([]model.Execution, 0, limit)
	for rows.Next() {
		var (
			e        model.Execution
			outcome  string
			exitCode sql.NullInt64
			finished sql.NullTime
		)
		if err := rows.Scan(
			&e.ID, &e.Token, &e.Interpreter, &e.SetupID, &outcome,
			&exitCode, &e.StartedAt, &finished,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning execution row: %w", err)
		}
		e.Outcome = model.Outcome(outcome)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		if finished.Valid {
			t := finished.Time
			e.FinishedAt = &t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating executions: %w", err)
	}

	return out, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
