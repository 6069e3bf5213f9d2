package repository

import (
	"context"
	"time"

	"github.com/sakif/code-ingest/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// ExecutionRepository is the execution journal.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *model.Execution) error
	Finish(ctx context.Context, token string, outcome model.Outcome, exitCode *int, finishedAt time.Time) error
	List(ctx context.Context, opts ListOptions) ([]model.Execution, error)
}
