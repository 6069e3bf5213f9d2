package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/code-ingest/internal/executor"
)

// Runtime implements executor.Runtime on top of the Docker Engine API.
type Runtime struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
}

var _ executor.Runtime = (*Runtime)(nil)

// pingTimeout bounds the daemon check in New.
const pingTimeout = 10 * time.Second

// New creates a Docker client from the environment (DOCKER_HOST etc.),
// checks that the daemon answers and makes sure the sandbox image is present.
func New(cfg Config, logger *slog.Logger) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	r := &Runtime{
		cli:    cli,
		config: cfg,
		logger: logger,
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), pingTimeout)
	defer cancelPing()
	if err := r.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, err
	}

	if cfg.PullImage {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.PullTimeout)
		defer cancel()

		if err := r.ensureImage(ctx); err != nil {
			cli.Close()
			return nil, err
		}
	}

	return r, nil
}

// Ping checks that the daemon answers.
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// Close releases the docker client.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

func (r *Runtime) ensureImage(ctx context.Context) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, r.config.Image)
	if err == nil {
		r.logger.Info("image found, skipping pull", slog.String("image", r.config.Image))
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", r.config.Image, err)
	}

	r.logger.Info("image not found, pulling", slog.String("image", r.config.Image))
	reader, err := r.cli.ImagePull(ctx, r.config.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	r.logger.Info("docker image is ready", slog.String("image", r.config.Image))
	return nil
}

func (r *Runtime) managedFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", r.config.ManagedLabel+"=true"))
}

// Start creates and starts a container. A container that was created but
// failed to start is removed before returning.
func (r *Runtime) Start(ctx context.Context, spec executor.Spec) error {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	hostConfig := &container.HostConfig{
		NetworkMode: container.NetworkMode(spec.NetworkMode),
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes,
		},
		Mounts:     mounts,
		AutoRemove: false,
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Entrypoint:      spec.Entrypoint,
		User:            spec.User,
		WorkingDir:      spec.WorkingDir,
		StopSignal:      spec.StopSignal,
		Tty:             r.config.Tty,
		NetworkDisabled: spec.NetworkMode == "none",
		Labels:          map[string]string{r.config.ManagedLabel: "true"},
	}, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.forceRemove(resp.ID)
		return fmt.Errorf("ContainerStart failed: %w", err)
	}

	r.logger.Debug("container started",
		slog.String("name", spec.Name),
		slog.String("id", resp.ID),
		slog.String("image", spec.Image),
	)
	return nil
}

// Inspect reports whether the container is still running. Anything that is
// not exited or dead (created, running, paused, restarting) counts as running.
func (r *Runtime) Inspect(ctx context.Context, name string) (executor.State, error) {
	info, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return executor.State{}, fmt.Errorf("inspect %s: %w", name, executor.ErrNotFound)
		}
		return executor.State{}, fmt.Errorf("ContainerInspect failed: %w", err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return executor.State{}, fmt.Errorf("ContainerInspect %s: no state reported", name)
	}

	status := string(info.State.Status)
	return executor.State{
		Running:   status != "exited" && status != "dead",
		Status:    status,
		ExitCode:  info.State.ExitCode,
		OOMKilled: info.State.OOMKilled,
	}, nil
}

// Logs reads the container log from the start, keeping at most limit bytes.
func (r *Runtime) Logs(ctx context.Context, name string, limit int64) ([]byte, error) {
	rc, err := r.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return nil, fmt.Errorf("logs %s: %w", name, executor.ErrNotFound)
		}
		return nil, fmt.Errorf("ContainerLogs failed: %w", err)
	}
	defer rc.Close()

	out := &executor.CappedBuffer{Limit: limit}
	if r.config.Tty {
		// With a TTY the stream is raw, so we can stop reading at the cap.
		_, err = io.Copy(out, io.LimitReader(rc, limit))
	} else {
		// Use stdcopy to demultiplex stdout from stderr into the same buffer
		_, err = stdcopy.StdCopy(out, out, rc)
	}
	if err != nil {
		return out.Bytes(), fmt.Errorf("reading logs of %s: %w", name, err)
	}
	return out.Bytes(), nil
}

// Kill sends SIGKILL.
func (r *Runtime) Kill(ctx context.Context, name string) error {
	err := r.cli.ContainerKill(ctx, name, "SIGKILL")
	switch {
	case err == nil:
		return nil
	case cerrdefs.IsNotFound(err):
		return fmt.Errorf("kill %s: %w", name, executor.ErrNotFound)
	case cerrdefs.IsConflict(err):
		return fmt.Errorf("kill %s: %w", name, executor.ErrNotRunning)
	default:
		return fmt.Errorf("ContainerKill failed: %w", err)
	}
}

// Remove force removes a container, killing it first if it is still running.
func (r *Runtime) Remove(ctx context.Context, name string) error {
	err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{
		Force: true,
	})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return fmt.Errorf("remove %s: %w", name, executor.ErrNotFound)
		}
		return fmt.Errorf("ContainerRemove failed: %w", err)
	}
	return nil
}

// Prune removes stopped managed containers.
func (r *Runtime) Prune(ctx context.Context) (executor.PruneReport, error) {
	report, err := r.cli.ContainersPrune(ctx, r.managedFilter())
	if err != nil {
		return executor.PruneReport{}, fmt.Errorf("ContainersPrune failed: %w", err)
	}
	return executor.PruneReport{
		Deleted:        report.ContainersDeleted,
		SpaceReclaimed: report.SpaceReclaimed,
	}, nil
}

// List returns managed containers.
func (r *Runtime) List(ctx context.Context, all bool) ([]executor.Container, error) {
	summaries, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     all,
		Filters: r.managedFilter(),
	})
	if err != nil {
		return nil, fmt.Errorf("ContainerList failed: %w", err)
	}

	out := make([]executor.Container, 0, len(summaries))
	for _, s := range summaries {
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		out = append(out, executor.Container{
			ID:    s.ID,
			Name:  name,
			State: string(s.State),
		})
	}
	return out, nil
}

// forceRemove is the cleanup used when a launch half-succeeded.
func (r *Runtime) forceRemove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		r.logger.Error("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}
