// Package task defines the scheduler-facing types the storage core consumes.
// The scheduler itself lives outside this repository; the VFS only needs task
// identities, the identity of the caller, and per-task environment variables.
package task

import (
	"errors"
	"sync"
)

// Scheduler errors.
var (
	ErrTaskNotFound = errors.New("task: task not found")
	ErrNoCurrent    = errors.New("task: no current task")
)

// ID identifies a task. The width matters: identifier packing in the VFS
// assumes a task identifier fits in 32 bits.
type ID uint32

// Kernel is the identifier of the kernel task that performs bootstrap work.
const Kernel ID = 0

// Scheduler is the surface the storage core consumes from the external
// task scheduler.
type Scheduler interface {
	// Current returns the identifier of the calling task.
	Current() (ID, error)

	// Owner returns the effective user and primary group a task runs as.
	// The concrete types are opaque here; the users package defines them.
	Owner(task ID) (uint32, uint32, error)

	// Environment returns the value of an environment variable for a task.
	Environment(task ID, name string) (string, error)
}

// Registry is a minimal in-memory Scheduler used by tests and the demo
// binary. A real system replaces it with the actual scheduler.
type Registry struct {
	mu      sync.RWMutex
	current ID
	tasks   map[ID]*entry
}

type entry struct {
	user  uint32
	group uint32
	env   map[string]string
}

// NewRegistry creates an empty task registry with the kernel task
// pre-registered as root and current.
func NewRegistry() *Registry {
	r := &Registry{tasks: make(map[ID]*entry)}
	r.tasks[Kernel] = &entry{env: make(map[string]string)}
	return r
}

// Register adds a task running as the given user and group.
func (r *Registry) Register(task ID, user, group uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task] = &entry{user: user, group: group, env: make(map[string]string)}
}

// Unregister removes a task.
func (r *Registry) Unregister(task ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, task)
}

// SetCurrent marks a task as the caller for subsequent Current calls.
func (r *Registry) SetCurrent(task ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = task
}

// Current implements Scheduler.
func (r *Registry) Current() (ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tasks[r.current]; !ok {
		return 0, ErrNoCurrent
	}
	return r.current, nil
}

// Owner implements Scheduler.
func (r *Registry) Owner(task ID) (uint32, uint32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[task]
	if !ok {
		return 0, 0, ErrTaskNotFound
	}
	return e.user, e.group, nil
}

// SetEnvironment sets an environment variable for a task.
func (r *Registry) SetEnvironment(task ID, name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[task]
	if !ok {
		return ErrTaskNotFound
	}
	e.env[name] = value
	return nil
}

// Environment implements Scheduler.
func (r *Registry) Environment(task ID, name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[task]
	if !ok {
		return "", ErrTaskNotFound
	}
	return e.env[name], nil
}
