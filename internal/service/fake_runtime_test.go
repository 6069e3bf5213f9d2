package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/sakif/code-ingest/internal/executor"
)

// =========================================================================
// FAKE RUNTIME
// =========================================================================
//
// fakeRuntime is an in-memory executor.Runtime. Containers start out
// running; a test "finishes" one with finish() and the next Inspect sees
// it exited. Every Remove and Kill is counted per name so tests can assert
// that a container was torn down exactly once.

type fakeContainer struct {
	id       string
	spec     executor.Spec
	running  bool
	exitCode int
	oom      bool
	logs     []byte
}

type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer // by name
	nextID     int

	startErr   error
	inspectErr error

	starts      []executor.Spec
	removeCalls map[string]int
	killCalls   map[string]int
}

var _ executor.Runtime = (*fakeRuntime)(nil)

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers:  make(map[string]*fakeContainer),
		removeCalls: make(map[string]int),
		killCalls:   make(map[string]int),
	}
}

func (f *fakeRuntime) Start(_ context.Context, spec executor.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.startErr != nil {
		return f.startErr
	}
	if _, ok := f.containers[spec.Name]; ok {
		return fmt.Errorf("name %q already in use", spec.Name)
	}
	f.nextID++
	f.containers[spec.Name] = &fakeContainer{
		id:      fmt.Sprintf("%064d", f.nextID),
		spec:    spec,
		running: true,
	}
	f.starts = append(f.starts, spec)
	return nil
}

// lookup finds a container by name or id. Caller holds f.mu.
func (f *fakeRuntime) lookup(nameOrID string) (string, *fakeContainer, bool) {
	if c, ok := f.containers[nameOrID]; ok {
		return nameOrID, c, true
	}
	for name, c := range f.containers {
		if c.id == nameOrID {
			return name, c, true
		}
	}
	return "", nil, false
}

func (f *fakeRuntime) Inspect(_ context.Context, name string) (executor.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inspectErr != nil {
		return executor.State{}, f.inspectErr
	}
	_, c, ok := f.lookup(name)
	if !ok {
		return executor.State{}, fmt.Errorf("inspect %s: %w", name, executor.ErrNotFound)
	}
	status := "running"
	if !c.running {
		status = "exited"
	}
	return executor.State{Running: c.running, Status: status, ExitCode: c.exitCode, OOMKilled: c.oom}, nil
}

func (f *fakeRuntime) Logs(_ context.Context, name string, limit int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, c, ok := f.lookup(name)
	if !ok {
		return nil, fmt.Errorf("logs %s: %w", name, executor.ErrNotFound)
	}
	buf := &executor.CappedBuffer{Limit: limit}
	_, _ = buf.Write(c.logs)
	return buf.Bytes(), nil
}

func (f *fakeRuntime) Kill(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.killCalls[name]++
	_, c, ok := f.lookup(name)
	if !ok {
		return fmt.Errorf("kill %s: %w", name, executor.ErrNotFound)
	}
	if !c.running {
		return fmt.Errorf("kill %s: %w", name, executor.ErrNotRunning)
	}
	c.running = false
	c.exitCode = 137
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removeCalls[name]++
	key, _, ok := f.lookup(name)
	if !ok {
		return fmt.Errorf("remove %s: %w", name, executor.ErrNotFound)
	}
	delete(f.containers, key)
	return nil
}

func (f *fakeRuntime) Prune(_ context.Context) (executor.PruneReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var report executor.PruneReport
	for name, c := range f.containers {
		if !c.running {
			report.Deleted = append(report.Deleted, c.id)
			delete(f.containers, name)
		}
	}
	return report, nil
}

func (f *fakeRuntime) List(_ context.Context, all bool) ([]executor.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]executor.Container, 0, len(f.containers))
	for name, c := range f.containers {
		if !all && !c.running {
			continue
		}
		state := "running"
		if !c.running {
			state = "exited"
		}
		out = append(out, executor.Container{ID: c.id, Name: name, State: state})
	}
	return out, nil
}

// --- test controls ---

// finish marks a container exited with code and output.
func (f *fakeRuntime) finish(name string, code int, logs string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.containers[name]
	c.running = false
	c.exitCode = code
	c.logs = []byte(logs)
}

// oomKill marks a container killed by the kernel for exceeding its memory cap.
func (f *fakeRuntime) oomKill(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.containers[name]
	c.running = false
	c.exitCode = 137
	c.oom = true
}

func (f *fakeRuntime) setLogs(name string, logs []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name].logs = logs
}

// vanish deletes a container behind the service's back.
func (f *fakeRuntime) vanish(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
}

// addForeign creates a container that was never launched through the service.
func (f *fakeRuntime) addForeign(name string, running bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%064d", f.nextID)
	f.containers[name] = &fakeContainer{id: id, running: running}
	return id
}

func (f *fakeRuntime) exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, _, ok := f.lookup(name)
	return ok
}

func (f *fakeRuntime) removes(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeCalls[name]
}

func (f *fakeRuntime) kills(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killCalls[name]
}

func (f *fakeRuntime) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeRuntime) lastStart() executor.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[len(f.starts)-1]
}
