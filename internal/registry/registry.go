// ABOUTME: Thread-safe registry for tool services and their lifecycles.
// ABOUTME: Manages registration, start/stop, and permission-checked dispatch.

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/openmcp/openmcp/internal/service"
)

// ErrAlreadyRegistered indicates a service with the same name is already registered.
var ErrAlreadyRegistered = errors.New("service already registered")

// ErrNotRegistered indicates the named service was never registered.
var ErrNotRegistered = errors.New("service not registered")

// ErrNotRunning indicates the named service is registered but not running.
var ErrNotRunning = errors.New("service not running")

// ErrPermissionDenied indicates the caller's capabilities do not cover the service.
var ErrPermissionDenied = errors.New("permission denied")

// Status is the lifecycle state of a registered service.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Descriptor summarizes a registered service for listing endpoints.
type Descriptor struct {
	Name   string
	Status Status
	Tools  []service.ToolDescriptor
}

// entry holds one registered service and its state. The entry mutex
// serializes lifecycle transitions per service; dispatch only reads the
// status under it and never holds it across an Invoke.
type entry struct {
	mu      sync.Mutex
	name    string
	svc     service.Service
	status  Status
	lastErr error
}

// Registry maintains the set of registered services.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *slog.Logger

	// onDispatch is an optional hook observing every dispatch outcome.
	onDispatch func(name string, duration time.Duration, result *service.ToolCallResult)
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "registry"),
	}
}

// SetDispatchHook installs a hook called after every dispatch with the
// service name, elapsed time, and result. Used for metrics. Not safe to call
// after the registry is serving traffic.
func (r *Registry) SetDispatchHook(hook func(name string, duration time.Duration, result *service.ToolCallResult)) {
	r.onDispatch = hook
}

// Register adds a service under the given name.
// Returns ErrAlreadyRegistered if the name is taken.
func (r *Registry) Register(name string, svc service.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}

	r.entries[name] = &entry{
		name:   name,
		svc:    svc,
		status: StatusStopped,
	}
	r.logger.Info("service registered", "service", name)
	return nil
}

// lookup fetches an entry under the read lock.
func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return e, nil
}

// Start transitions a registered service to running. Starting a running
// service is a no-op. A failed start leaves the service in StatusFailed and
// a later Start may retry.
func (r *Registry) Start(ctx context.Context, name string, settings map[string]any) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusRunning {
		return nil
	}

	e.status = StatusStarting
	r.logger.Info("starting service", "service", name)

	if err := e.svc.Start(ctx, settings); err != nil {
		e.status = StatusFailed
		e.lastErr = err
		r.logger.Error("service start failed", "service", name, "error", err)
		return fmt.Errorf("starting service %s: %w", name, err)
	}

	e.status = StatusRunning
	e.lastErr = nil
	r.logger.Info("service running", "service", name)
	return nil
}

// Stop transitions a running service to stopped. Stopping a service that is
// not running is a no-op.
func (r *Registry) Stop(ctx context.Context, name string) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		return nil
	}

	if err := e.svc.Stop(ctx); err != nil {
		// The service is still marked stopped; a stop failure is not
		// recoverable by dispatching more calls at it.
		e.status = StatusStopped
		r.logger.Error("service stop failed", "service", name, "error", err)
		return fmt.Errorf("stopping service %s: %w", name, err)
	}

	e.status = StatusStopped
	r.logger.Info("service stopped", "service", name)
	return nil
}

// StopAll stops every running service. Errors are logged, not returned;
// shutdown keeps going.
func (r *Registry) StopAll(ctx context.Context) {
	for _, name := range r.Names() {
		if err := r.Stop(ctx, name); err != nil {
			r.logger.Error("shutdown stop failed", "service", name, "error", err)
		}
	}
}

// Status returns the lifecycle state of a named service.
func (r *Registry) Status(name string) (Status, error) {
	e, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, nil
}

// Names returns all registered service names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns descriptors for registered services the caller is allowed to
// see. A nil perms lists everything.
func (r *Registry) List(perms service.Permissions) []Descriptor {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	descriptors := make([]Descriptor, 0, len(entries))
	for _, e := range entries {
		if perms != nil && !perms.Allows(e.name) {
			continue
		}
		e.mu.Lock()
		d := Descriptor{Name: e.name, Status: e.status}
		if e.status == StatusRunning {
			d.Tools = e.svc.Tools()
		}
		e.mu.Unlock()
		descriptors = append(descriptors, d)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors
}

// Tools returns the tool catalog of a running service.
func (r *Registry) Tools(name string) ([]service.ToolDescriptor, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return e.svc.Tools(), nil
}

// Dispatch routes a tool call to a running service after a permission check.
// Lifecycle and permission failures come back as errors; tool-level failures
// come back inside the result. The caller's emitter receives progress events
// from the service.
func (r *Registry) Dispatch(ctx context.Context, name string, req *service.ToolCallRequest, perms service.Permissions, progress *service.Emitter) (*service.ToolCallResult, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	if perms == nil || !perms.Allows(name) {
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, name)
	}

	e.mu.Lock()
	running := e.status == StatusRunning
	e.mu.Unlock()
	if !running {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	start := time.Now()
	result := r.invoke(ctx, e, req, progress)
	if r.onDispatch != nil {
		r.onDispatch(name, time.Since(start), result)
	}
	return result, nil
}

// invoke calls into the service with panic recovery. A panicking tool call
// must not take the process down with it.
func (r *Registry) invoke(ctx context.Context, e *entry, req *service.ToolCallRequest, progress *service.Emitter) (result *service.ToolCallResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool call panicked",
				"service", e.name,
				"tool", req.Tool,
				"panic", rec,
				"stack", string(debug.Stack()))
			result = service.Failure(service.KindInternal, fmt.Sprintf("tool call panicked: %v", rec))
		}
	}()

	result = e.svc.Invoke(ctx, req, progress)
	if result == nil {
		result = service.Failure(service.KindInternal, "service returned no result")
	}
	return result
}
