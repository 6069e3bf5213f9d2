// Package executor defines the contract between the orchestrator and the
// container runtime.
//
// The orchestrator never talks to Docker directly: it asks a Runtime to
// start, inspect, read, kill and remove containers by name. The Docker
// implementation lives in the docker sub-package; tests use in-memory fakes.
package executor

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the runtime has no container with the given name or id.
	ErrNotFound = errors.New("executor: container not found")
	// ErrNotRunning means a kill was requested for a container that already stopped.
	ErrNotRunning = errors.New("executor: container not running")
)

// Mount binds one host file into the container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Spec describes one container to start.
type Spec struct {
	Name        string
	Image       string
	Entrypoint  []string
	Mounts      []Mount
	MemoryBytes int64 // applied to both RAM and swap
	NetworkMode string
	User        string
	WorkingDir  string
	StopSignal  string
}

// State is a point-in-time view of a container.
type State struct {
	Running   bool
	Status    string
	ExitCode  int
	OOMKilled bool
}

// Container is a summary row from List.
type Container struct {
	ID    string
	Name  string
	State string
}

// PruneReport is what a prune reclaimed.
type PruneReport struct {
	Deleted        []string `json:"deleted"`
	SpaceReclaimed uint64   `json:"spaceReclaimed"`
}

// Runtime is the external container engine.
//
// Every method takes the container name or id. Implementations must return
// an error wrapping ErrNotFound when the container does not exist so callers
// can tell "already gone" from a real failure.
type Runtime interface {
	Start(ctx context.Context, spec Spec) error
	Inspect(ctx context.Context, name string) (State, error)
	// Logs returns combined stdout and stderr, at most limit bytes.
	Logs(ctx context.Context, name string, limit int64) ([]byte, error)
	Kill(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	// Prune removes stopped containers managed by this service.
	Prune(ctx context.Context) (PruneReport, error)
	// List returns containers managed by this service; all includes stopped ones.
	List(ctx context.Context, all bool) ([]Container, error)
}
