// Package main is the entry point for the code-ingest server.
//
// main only wires things together: it loads the configuration, builds each
// dependency in order and hands the finished graph to the HTTP server. All
// behaviour lives in the internal packages.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sakif/code-ingest/internal/auth"
	"github.com/sakif/code-ingest/internal/config"
	"github.com/sakif/code-ingest/internal/executor/docker"
	"github.com/sakif/code-ingest/internal/handler"
	"github.com/sakif/code-ingest/internal/interpreter"
	"github.com/sakif/code-ingest/internal/janitor"
	"github.com/sakif/code-ingest/internal/metrics"
	sqliteRepo "github.com/sakif/code-ingest/internal/repository/sqlite"
	"github.com/sakif/code-ingest/internal/server"
	"github.com/sakif/code-ingest/internal/service"
	"github.com/sakif/code-ingest/internal/setup"
	"github.com/sakif/code-ingest/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "code-ingest",
	Short: "Run untrusted code in throwaway containers and hand back the output.",
	Long: `code-ingest accepts base64 source for a supported interpreter, runs it in
a memory-capped container without network access, and lets the client poll
for the output with an opaque token. Containers are reaped after a fixed
lifetime whether or not anyone polls for them.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (default ./config.yaml if present)")
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	// === 1. CONFIGURATION AND LOGGING ===
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	if cfg.AdminTokenGenerated {
		if cfg.DisplayTokens {
			logger.Info("generated admin token", slog.String("admin_token", cfg.AdminToken))
		} else {
			logger.Warn("no admin_token configured, generated a random one (set display_tokens=true to print it)")
		}
	}

	// === 2. CONTAINER RUNTIME ===
	dockerCfg := docker.DefaultConfig()
	dockerCfg.Image = cfg.ImageName
	dockerCfg.PullImage = cfg.PullImage

	rt, err := docker.New(dockerCfg, logger)
	if err != nil {
		return fmt.Errorf("initializing docker runtime: %w", err)
	}
	defer rt.Close()

	// === 3. SETUP SCRIPTS, JOURNAL, METRICS ===
	catalog, err := setup.Scan(cfg.SetupDir, logger)
	if err != nil {
		return err
	}

	collector := metrics.New()
	opts := []service.Option{service.WithMetrics(collector)}

	if cfg.JournalPath != "" {
		db, err := sqliteRepo.New(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer db.Close()
		opts = append(opts, service.WithJournal(db))
	} else {
		logger.Info("execution journal disabled")
	}

	// === 4. SERVICES ===
	execSvc, err := service.NewExecutionService(service.Config{
		Image:          cfg.ImageName,
		MemoryBytes:    cfg.MemoryBytes(),
		NetworkMode:    cfg.NetworkMode,
		User:           cfg.ContainerUser,
		Lifetime:       cfg.Lifetime(),
		MaxOutputBytes: cfg.MaxOutputBytes,
		TempDir:        cfg.TempDir,
	}, rt, store.New(), catalog, logger, opts...)
	if err != nil {
		return err
	}
	adminSvc := service.NewAdminService(execSvc, logger)

	guard, err := auth.NewAdminGuard(cfg.AdminToken)
	if err != nil {
		return err
	}

	// === 5. HTTP SERVER ===
	srv := server.New(server.Config{Addr: cfg.Addr()}, server.Handlers{
		Run:   handler.NewRunHandler(execSvc, logger),
		Poll:  handler.NewPollHandler(execSvc, logger),
		Admin: handler.NewAdminHandler(adminSvc, guard, collector, logger),
	}, collector, logger)

	// === 6. BACKGROUND PRUNE ===
	if cfg.PruneSchedule != "" {
		j, err := janitor.New(cfg.PruneSchedule, adminSvc, logger)
		if err != nil {
			return err
		}
		j.Start()
		srv.OnShutdown(j.Stop)
	}

	// No container may outlive the process.
	srv.OnShutdown(func(ctx context.Context) {
		if err := adminSvc.Reset(ctx); err != nil {
			logger.Error("cleanup on shutdown incomplete", slog.String("error", err.Error()))
		}
	})

	logger.Info("code-ingest ready",
		slog.Any("interpreters", interpreter.IDs()),
		slog.String("image", cfg.ImageName),
		slog.Duration("lifetime", cfg.Lifetime()),
		slog.String("mem_max", cfg.MemMax),
		slog.String("network_mode", cfg.NetworkMode),
	)

	return srv.Start()
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
