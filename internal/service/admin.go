package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/code-ingest/internal/apperror"
	"github.com/sakif/code-ingest/internal/executor"
	"github.com/sakif/code-ingest/internal/model"
	"github.com/sakif/code-ingest/internal/repository"
	"github.com/sakif/code-ingest/internal/store"
)

// Action is one of the closed set of admin operations.
type Action int

const (
	ActionPrune Action = iota + 1
	ActionKill
	ActionContainerCount
	ActionSetupFiles
	ActionReset
	ActionHistory
)

var actionNames = map[Action]string{
	ActionPrune:          "prune",
	ActionKill:           "kill",
	ActionContainerCount: "containercount",
	ActionSetupFiles:     "setupfiles",
	ActionReset:          "reset",
	ActionHistory:        "history",
}

// ParseAction maps a URL path segment to an Action.
func ParseAction(name string) (Action, bool) {
	for a, n := range actionNames {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Counts is the answer to a container count.
type Counts struct {
	Registered int `json:"registered"`
	Live       int `json:"live"`
}

// AdminService implements the operator actions. It shares the registry and
// runtime of the ExecutionService it wraps, so an admin kill or reset goes
// through the same per-token ownership as polls and the reaper.
type AdminService struct {
	exec   *ExecutionService
	logger *slog.Logger
}

// NewAdminService creates an AdminService on top of exec.
func NewAdminService(exec *ExecutionService, logger *slog.Logger) *AdminService {
	return &AdminService{exec: exec, logger: logger}
}

// Prune removes every stopped managed container.
func (s *AdminService) Prune(ctx context.Context) (executor.PruneReport, error) {
	report, err := s.exec.runtime.Prune(ctx)
	if err != nil {
		return executor.PruneReport{}, fmt.Errorf("pruning containers: %w", err)
	}
	s.logger.Info("containers pruned",
		slog.Int("deleted", len(report.Deleted)),
		slog.Uint64("space_reclaimed", report.SpaceReclaimed),
	)
	return report, nil
}

// Kill forcibly stops and removes one managed container, by name or id.
// A registered execution is torn down and deregistered like a reaped one.
// Returns apperror.ErrNotFound when no managed container matches.
func (s *AdminService) Kill(ctx context.Context, id string) error {
	killed := s.exec.store.Do(id, func(rec *store.Record) bool {
		tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := s.exec.runtime.Kill(tctx, id); err != nil &&
			!errors.Is(err, executor.ErrNotRunning) && !errors.Is(err, executor.ErrNotFound) {
			s.logger.Warn("kill failed, removing anyway", slog.String("id", id), slog.String("error", err.Error()))
		}
		s.exec.teardown(rec, model.OutcomeKilled, nil)
		return true
	})
	if killed {
		s.exec.observeLive()
		s.logger.Info("execution killed by admin", slog.String("token", id))
		return nil
	}

	// Not registered: only touch containers this service manages.
	containers, err := s.exec.runtime.List(ctx, true)
	if err != nil {
		return fmt.Errorf("listing containers: %w", err)
	}
	target, ok := findContainer(containers, id)
	if !ok {
		return apperror.NotFound("container", id)
	}

	if err := s.exec.runtime.Kill(ctx, target.ID); err != nil && !errors.Is(err, executor.ErrNotRunning) {
		if errors.Is(err, executor.ErrNotFound) {
			return apperror.NotFound("container", id)
		}
		return fmt.Errorf("killing container %s: %w", id, err)
	}
	if err := s.exec.runtime.Remove(ctx, target.ID); err != nil {
		if errors.Is(err, executor.ErrNotFound) {
			return apperror.NotFound("container", id)
		}
		return fmt.Errorf("removing container %s: %w", id, err)
	}

	s.logger.Info("container killed by admin", slog.String("id", id))
	return nil
}

// minIDPrefix is the shortest container id prefix Kill accepts, the length
// of the short ids docker prints.
const minIDPrefix = 12

func findContainer(containers []executor.Container, id string) (executor.Container, bool) {
	for _, c := range containers {
		if c.Name == id || c.ID == id {
			return c, true
		}
	}
	if len(id) >= minIDPrefix {
		for _, c := range containers {
			if strings.HasPrefix(c.ID, id) {
				return c, true
			}
		}
	}
	return executor.Container{}, false
}

// Count reports how many executions are registered and how many managed
// containers are running right now.
func (s *AdminService) Count(ctx context.Context) (Counts, error) {
	running, err := s.exec.runtime.List(ctx, false)
	if err != nil {
		return Counts{}, fmt.Errorf("listing containers: %w", err)
	}
	return Counts{Registered: s.exec.store.Len(), Live: len(running)}, nil
}

// SetupScripts returns the setup catalog as id -> file name.
func (s *AdminService) SetupScripts() map[string]string {
	return s.exec.setups.Files()
}

// Reset clears the registry, cancels every pending reaper, removes every
// managed container and empties the temp directory. It keeps going past
// individual failures and returns them joined.
func (s *AdminService) Reset(ctx context.Context) error {
	// === 1. TAKE OWNERSHIP OF EVERYTHING REGISTERED ===
	records := s.exec.store.Drain()
	for _, rec := range records {
		rec.StopReaper()
	}

	var errs []error

	// === 2. REMOVE MANAGED CONTAINERS ===
	containers, err := s.exec.runtime.List(ctx, true)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing containers: %w", err))
	}
	for _, c := range containers {
		if err := s.exec.runtime.Remove(ctx, c.ID); err != nil && !errors.Is(err, executor.ErrNotFound) {
			errs = append(errs, fmt.Errorf("removing container %s: %w", c.Name, err))
		}
	}
	// Registered containers the listing missed.
	for _, rec := range records {
		if err := s.exec.runtime.Remove(ctx, rec.Token); err != nil && !errors.Is(err, executor.ErrNotFound) {
			errs = append(errs, fmt.Errorf("removing container %s: %w", rec.Token, err))
		}
		s.exec.metrics.Teardowns.WithLabelValues(string(model.OutcomeReset)).Inc()
		s.exec.journalFinish(rec.Token, model.OutcomeReset, nil)
	}

	// === 3. EMPTY THE TEMP DIRECTORY ===
	if err := clearDir(s.exec.config.TempDir); err != nil {
		errs = append(errs, err)
	}

	s.exec.observeLive()
	s.logger.Info("service reset",
		slog.Int("executions", len(records)),
		slog.Int("containers", len(containers)),
		slog.Int("errors", len(errs)),
	)
	return errors.Join(errs...)
}

// clearDir deletes everything inside dir but keeps dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading temp dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// History returns journal rows newest first, skipping the offset most
// recent ones. It is empty when the journal is disabled.
func (s *AdminService) History(ctx context.Context, limit, offset int) ([]model.Execution, error) {
	if s.exec.journal == nil {
		return []model.Execution{}, nil
	}
	list, err := s.exec.journal.List(ctx, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return list, nil
}
