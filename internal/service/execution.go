// Package service contains the execution orchestrator: the Launcher, the
// Timeout Reaper, the Poller and the admin operations built on top of them.
//
// THE LIFECYCLE OF ONE SUBMISSION:
//
//	Launch ──► container started, record inserted, reaper timer armed ──► token
//	Poll   ──► inspect ──► running:  snapshot, record untouched
//	                    └► finished: teardown + deregister, snapshot (exactly once)
//	reap   ──► (lifetime elapsed) still registered? kill + teardown + deregister
//
// Teardown always runs inside store.Do for the token, so whichever of the
// poller, the reaper or an admin action gets the per-token lock first does
// the work and every later actor finds the token gone.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/code-ingest/internal/apperror"
	"github.com/sakif/code-ingest/internal/executor"
	"github.com/sakif/code-ingest/internal/interpreter"
	"github.com/sakif/code-ingest/internal/metrics"
	"github.com/sakif/code-ingest/internal/model"
	"github.com/sakif/code-ingest/internal/repository"
	"github.com/sakif/code-ingest/internal/setup"
	"github.com/sakif/code-ingest/internal/store"
)

// In-container layout and fixed container settings.
const (
	SetupMountPath = "/home/setup"
	WorkingDir     = "/tmp"
	StopSignal     = "SIGKILL"
)

const (
	teardownTimeout = 30 * time.Second
	journalTimeout  = 5 * time.Second
)

// Config holds the per-container limits and the shared temp directory.
type Config struct {
	Image          string
	MemoryBytes    int64 // RAM and swap ceiling
	NetworkMode    string
	User           string
	Lifetime       time.Duration
	MaxOutputBytes int64
	TempDir        string
}

// Snapshot is what a poll observed. ExitCode is only meaningful when
// Running is false.
type Snapshot struct {
	Output   []byte
	Running  bool
	ExitCode int
}

// ExecutionService launches, tracks and reaps sandboxed executions.
type ExecutionService struct {
	runtime executor.Runtime
	store   *store.Store
	setups  *setup.Catalog
	journal repository.ExecutionRepository
	metrics *metrics.Collector
	config  Config
	logger  *slog.Logger

	newToken func() (string, error)
}

// Option configures optional collaborators of ExecutionService.
type Option func(*ExecutionService)

// WithJournal records every launch and teardown in repo.
func WithJournal(repo repository.ExecutionRepository) Option {
	return func(s *ExecutionService) {
		s.journal = repo
	}
}

// WithMetrics reports to m instead of a private collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *ExecutionService) {
		s.metrics = m
	}
}

// NewExecutionService creates an ExecutionService. The temp directory is
// created if it does not exist.
func NewExecutionService(cfg Config, rt executor.Runtime, st *store.Store, setups *setup.Catalog, logger *slog.Logger, opts ...Option) (*ExecutionService, error) {
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp dir %s: %w", cfg.TempDir, err)
	}

	s := &ExecutionService{
		runtime:  rt,
		store:    st,
		setups:   setups,
		config:   cfg,
		logger:   logger,
		newToken: newToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s, nil
}

// Launch writes the inputs to temp files, starts one container for them and
// registers it under a fresh token. It returns as soon as the container has
// been started and never waits for it to finish.
//
// The caller validates its inputs: source is non-empty and in comes from
// interpreter.Resolve.
func (s *ExecutionService) Launch(ctx context.Context, source []byte, in interpreter.Interpreter, setupID string) (string, error) {
	token, err := s.newToken()
	if err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}

	// === 1. MATERIALIZE INPUTS ===
	fileID := xid.New().String()
	codePath := filepath.Join(s.config.TempDir, fileID+"-code"+in.Extension)
	setupPath := filepath.Join(s.config.TempDir, fileID+"-setup.sh")

	if err := os.WriteFile(codePath, source, 0o644); err != nil {
		s.removeFiles(codePath)
		return "", fmt.Errorf("writing source file: %w", err)
	}
	if err := os.WriteFile(setupPath, s.setups.Contents(setupID), 0o666); err != nil {
		s.removeFiles(codePath, setupPath)
		return "", fmt.Errorf("writing setup file: %w", err)
	}

	// === 2. START THE CONTAINER ===
	// The setup script runs to completion or failure first; the main command
	// always runs afterwards.
	spec := executor.Spec{
		Name:       token,
		Image:      s.config.Image,
		Entrypoint: []string{"/bin/sh", "-c", "sh " + SetupMountPath + "; " + in.Command},
		Mounts: []executor.Mount{
			{Source: codePath, Target: interpreter.ScriptPath, ReadOnly: true},
			{Source: setupPath, Target: SetupMountPath, ReadOnly: false},
		},
		MemoryBytes: s.config.MemoryBytes,
		NetworkMode: s.config.NetworkMode,
		User:        s.config.User,
		WorkingDir:  WorkingDir,
		StopSignal:  StopSignal,
	}

	if err := s.runtime.Start(ctx, spec); err != nil {
		s.removeFiles(codePath, setupPath)
		s.metrics.Launches.WithLabelValues(in.ID, "failed").Inc()
		s.journalCreate(token, in.ID, setupID, model.OutcomeFailed)
		s.logger.Error("container launch failed",
			slog.String("token", token),
			slog.String("interpreter", in.ID),
			slog.String("error", err.Error()),
		)
		return "", apperror.LaunchFailed(err)
	}

	// === 3. JOURNAL, REGISTER AND ARM THE REAPER ===
	// The row must exist before any teardown path can finish it.
	s.journalCreate(token, in.ID, setupID, model.OutcomeRunning)

	rec := &store.Record{
		Token:       token,
		Interpreter: in.ID,
		SetupPath:   setupPath,
		CodePath:    codePath,
		StartedAt:   time.Now(),
	}
	if err := s.store.Insert(rec); err != nil {
		s.forceRemove(token)
		s.removeFiles(codePath, setupPath)
		s.metrics.Launches.WithLabelValues(in.ID, "failed").Inc()
		s.journalFinish(token, model.OutcomeFailed, nil)
		return "", apperror.LaunchFailed(err)
	}

	// Armed under the token lock: a poll that already tore the record down
	// leaves nothing to arm.
	s.store.Do(token, func(rec *store.Record) bool {
		timer := time.AfterFunc(s.config.Lifetime, func() { s.reap(token) })
		rec.SetReaper(timer.Stop)
		return false
	})

	s.metrics.Launches.WithLabelValues(in.ID, "ok").Inc()
	s.observeLive()

	s.logger.Info("execution launched",
		slog.String("token", token),
		slog.String("interpreter", in.ID),
		slog.String("setup", setupID),
		slog.Duration("lifetime", s.config.Lifetime),
	)
	return token, nil
}

// Poll returns the current output of a registered execution. The first poll
// that sees the container finished tears it down and deregisters the token,
// so it is also the last successful poll.
//
// Errors: apperror.ErrNotFound for unknown or consumed tokens,
// apperror.ErrGone when the runtime lost or cannot report the container.
func (s *ExecutionService) Poll(ctx context.Context, token string) (Snapshot, error) {
	var (
		snap    Snapshot
		pollErr error
	)

	found := s.store.Do(token, func(rec *store.Record) bool {
		state, err := s.runtime.Inspect(ctx, token)
		if err != nil {
			pollErr = apperror.Gone(token, err)
			if errors.Is(err, executor.ErrNotFound) {
				s.teardown(rec, model.OutcomeVanished, nil)
				return true
			}
			// The container may still exist; the reaper keeps ownership.
			return false
		}

		out, err := s.runtime.Logs(ctx, token, s.config.MaxOutputBytes)
		if err != nil {
			if errors.Is(err, executor.ErrNotFound) {
				pollErr = apperror.Gone(token, err)
				s.teardown(rec, model.OutcomeVanished, nil)
				return true
			}
			s.logger.Warn("failed to read container logs",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
		}
		snap.Output = truncate(out, s.config.MaxOutputBytes)

		if state.Running {
			snap.Running = true
			return false
		}

		snap.ExitCode = state.ExitCode
		if state.OOMKilled {
			s.metrics.OOMKills.Inc()
			s.logger.Warn("execution hit the memory limit",
				slog.String("token", token),
				slog.Int64("memory_bytes", s.config.MemoryBytes),
			)
		}
		code := state.ExitCode
		s.teardown(rec, model.OutcomeCompleted, &code)
		return true
	})

	switch {
	case !found:
		s.metrics.Polls.WithLabelValues("invalid").Inc()
		return Snapshot{}, apperror.NotFound("token", token)
	case pollErr != nil:
		s.metrics.Polls.WithLabelValues("gone").Inc()
		s.observeLive()
		return Snapshot{}, pollErr
	case snap.Running:
		s.metrics.Polls.WithLabelValues("running").Inc()
	default:
		s.metrics.Polls.WithLabelValues("finished").Inc()
		s.observeLive()
	}
	return snap, nil
}

// reap is the timeout path, run by the timer armed in Launch.
func (s *ExecutionService) reap(token string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reaper panicked", slog.String("token", token), slog.Any("panic", r))
		}
	}()

	reaped := s.store.Do(token, func(rec *store.Record) bool {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		var exitCode *int
		state, err := s.runtime.Inspect(ctx, token)
		switch {
		case err != nil:
			s.logger.Debug("reaper inspect failed", slog.String("token", token), slog.String("error", err.Error()))
		case state.Running:
			if err := s.runtime.Kill(ctx, token); err != nil {
				s.logger.Debug("reaper kill failed", slog.String("token", token), slog.String("error", err.Error()))
			}
		default:
			code := state.ExitCode
			exitCode = &code
		}

		s.teardown(rec, model.OutcomeReaped, exitCode)
		return true
	})

	if reaped {
		s.observeLive()
	}
}

// teardown removes the container and both temp files. It must run inside
// store.Do for rec.Token (or on a drained record) and never fails: runtime
// and file errors are logged and swallowed.
func (s *ExecutionService) teardown(rec *store.Record, outcome model.Outcome, exitCode *int) {
	rec.StopReaper()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := s.runtime.Remove(ctx, rec.Token); err != nil && !errors.Is(err, executor.ErrNotFound) {
		s.logger.Warn("failed to remove container",
			slog.String("token", rec.Token),
			slog.String("error", err.Error()),
		)
	}
	s.removeFiles(rec.CodePath, rec.SetupPath)

	s.metrics.Teardowns.WithLabelValues(string(outcome)).Inc()
	s.metrics.Lifetime.WithLabelValues(string(outcome)).Observe(time.Since(rec.StartedAt).Seconds())
	s.journalFinish(rec.Token, outcome, exitCode)

	s.logger.Info("execution torn down",
		slog.String("token", rec.Token),
		slog.String("outcome", string(outcome)),
		slog.Duration("age", time.Since(rec.StartedAt)),
	)
}

// removeFiles deletes paths, tolerating files that are already gone.
func (s *ExecutionService) removeFiles(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to delete temp file", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
}

func (s *ExecutionService) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := s.runtime.Remove(ctx, name); err != nil && !errors.Is(err, executor.ErrNotFound) {
		s.logger.Warn("failed to remove container", slog.String("name", name), slog.String("error", err.Error()))
	}
}

func (s *ExecutionService) observeLive() {
	s.metrics.LiveExecutions.Set(float64(s.store.Len()))
}

func (s *ExecutionService) journalCreate(token, interp, setupID string, outcome model.Outcome) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	exec := &model.Execution{
		Token:       token,
		Interpreter: interp,
		SetupID:     setupID,
		Outcome:     outcome,
	}
	if outcome != model.OutcomeRunning {
		now := time.Now()
		exec.FinishedAt = &now
	}
	if err := s.journal.Create(ctx, exec); err != nil {
		s.logger.Warn("failed to journal launch", slog.String("token", token), slog.String("error", err.Error()))
	}
}

func (s *ExecutionService) journalFinish(token string, outcome model.Outcome, exitCode *int) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if err := s.journal.Finish(ctx, token, outcome, exitCode, time.Now()); err != nil {
		s.logger.Warn("failed to journal teardown", slog.String("token", token), slog.String("error", err.Error()))
	}
}

func truncate(b []byte, limit int64) []byte {
	if limit >= 0 && int64(len(b)) > limit {
		return b[:limit]
	}
	return b
}
