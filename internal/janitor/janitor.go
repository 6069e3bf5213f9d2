// Package janitor runs the admin prune on a cron schedule so stopped
// containers that slipped past teardown do not pile up between operator
// visits.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sakif/code-ingest/internal/executor"
)

const pruneTimeout = 2 * time.Minute

// Pruner is the slice of the admin service the janitor needs.
type Pruner interface {
	Prune(ctx context.Context) (executor.PruneReport, error)
}

// Janitor owns one cron runner with a single prune job.
type Janitor struct {
	cron   *cron.Cron
	pruner Pruner
	logger *slog.Logger
}

// parser accepts standard five-field expressions and descriptors such as
// "@every 10m" or "@hourly".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates schedule and registers the prune job. The janitor does
// nothing until Start is called.
func New(schedule string, pruner Pruner, logger *slog.Logger) (*Janitor, error) {
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("janitor: invalid schedule %q: %w", schedule, err)
	}

	cl := cronLogger{logger: logger}
	j := &Janitor{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			// SkipIfStillRunning releases its slot without a defer, so Recover
			// has to sit inside it or one panic would block every later run.
			cron.WithChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)),
		),
		pruner: pruner,
		logger: logger,
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("janitor: scheduling prune: %w", err)
	}
	return j, nil
}

// Start runs the scheduler in its own goroutine.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started")
}

// Stop halts the scheduler and waits for a running prune to finish or for
// ctx to expire.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		j.logger.Info("janitor stopped")
	case <-ctx.Done():
		j.logger.Warn("janitor stop timed out waiting for prune")
	}
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()

	report, err := j.pruner.Prune(ctx)
	if err != nil {
		j.logger.Error("scheduled prune failed", slog.String("error", err.Error()))
		return
	}
	j.logger.Info("scheduled prune finished",
		slog.Int("deleted", len(report.Deleted)),
		slog.Uint64("space_reclaimed", report.SpaceReclaimed),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
