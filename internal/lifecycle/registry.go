package lifecycle

import (
	"context"
	"fmt"
	"sync"
)

// Initializer is implemented by services that need one-time setup before start.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Starter is implemented by services that begin active work when started.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by services that release resources on shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Config holds per-service registration options.
type Config struct {
	// Dependencies names services that must be initialized and started
	// before this one.
	Dependencies []string
}

// Logger defines the logging interface for the registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is the bookkeeping record for one registered service.
type entry struct {
	name         string
	handle       any
	dependencies []string
	initialized  bool
	started      bool
}

// Registry tracks named services and their declared dependencies, and
// drives initialize/start/stop in dependency order.
//
// The registry is constructed explicitly and threaded through application
// setup; it holds the single instance of each service for the process.
type Registry struct {
	mu       sync.Mutex
	services map[string]*entry
	// order preserves registration order for StopAll.
	order  []string
	logger Logger
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{
		services: make(map[string]*entry),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Register adds a service to the registry. Registration is idempotent:
// registering an existing name overwrites the previous entry with a warning
// and resets its lifecycle flags.
func (r *Registry) Register(name string, handle any, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		r.logger.Warn("service re-registered, overwriting previous entry", "service", name)
	} else {
		r.order = append(r.order, name)
	}

	deps := make([]string, len(cfg.Dependencies))
	copy(deps, cfg.Dependencies)

	r.services[name] = &entry{
		name:         name,
		handle:       handle,
		dependencies: deps,
	}
}

// GetService returns the registered handle for name.
func (r *Registry) GetService(name string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return e.handle, nil
}

// ServiceNames returns all registered service names in registration order.
func (r *Registry) ServiceNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// IsStarted reports whether the named service has been started.
func (r *Registry) IsStarted(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.services[name]
	return ok && e.started
}

// InitializeService initializes the named service, depth-first through its
// declared dependencies. Repeat calls are no-ops. A dependency cycle fails
// fast with ErrDependencyCycle instead of recursing indefinitely.
//
// Failure semantics: the first failing hook aborts the chain and the error
// propagates to the caller. Dependencies initialized before the failure
// stay initialized; there is no rollback.
func (r *Registry) InitializeService(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initializeLocked(ctx, name, make(map[string]bool))
}

// initializeLocked walks the dependency graph depth-first. visiting holds the
// names on the current path so a cycle is detected on re-entry.
func (r *Registry) initializeLocked(ctx context.Context, name string, visiting map[string]bool) error {
	e, ok := r.services[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if e.initialized {
		return nil
	}
	if visiting[name] {
		return fmt.Errorf("%w: via %s", ErrDependencyCycle, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, dep := range e.dependencies {
		if err := r.initializeLocked(ctx, dep, visiting); err != nil {
			return err
		}
	}

	if init, ok := e.handle.(Initializer); ok {
		r.logger.Debug("initializing service", "service", name)
		if err := init.Initialize(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInitializeFailed, name, err)
		}
	}

	e.initialized = true
	r.logger.Info("service initialized", "service", name)
	return nil
}

// StartService starts the named service, initializing it first if needed and
// starting its declared dependencies before the target.
func (r *Registry) StartService(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.initializeLocked(ctx, name, make(map[string]bool)); err != nil {
		return err
	}
	return r.startLocked(ctx, name, make(map[string]bool))
}

func (r *Registry) startLocked(ctx context.Context, name string, visiting map[string]bool) error {
	e, ok := r.services[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if e.started {
		return nil
	}
	if visiting[name] {
		return fmt.Errorf("%w: via %s", ErrDependencyCycle, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	for _, dep := range e.dependencies {
		if err := r.initializeLocked(ctx, dep, make(map[string]bool)); err != nil {
			return err
		}
		if err := r.startLocked(ctx, dep, visiting); err != nil {
			return err
		}
	}

	if starter, ok := e.handle.(Starter); ok {
		r.logger.Debug("starting service", "service", name)
		if err := starter.Start(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStartFailed, name, err)
		}
	}

	e.started = true
	r.logger.Info("service started", "service", name)
	return nil
}

// StopService stops the named service, first stopping every registered
// service that lists it as a dependency (the reverse direction from start).
func (r *Registry) StopService(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(ctx, name, make(map[string]bool))
}

func (r *Registry) stopLocked(ctx context.Context, name string, visiting map[string]bool) error {
	e, ok := r.services[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if !e.started {
		return nil
	}
	if visiting[name] {
		return fmt.Errorf("%w: via %s", ErrDependencyCycle, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	// Stop dependents before the target.
	for _, other := range r.services {
		if other.started && dependsOn(other, name) {
			if err := r.stopLocked(ctx, other.name, visiting); err != nil {
				return err
			}
		}
	}

	if stopper, ok := e.handle.(Stopper); ok {
		r.logger.Debug("stopping service", "service", name)
		if err := stopper.Stop(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrStopFailed, name, err)
		}
	}

	e.started = false
	r.logger.Info("service stopped", "service", name)
	return nil
}

// dependsOn reports whether e lists name as a direct dependency.
func dependsOn(e *entry, name string) bool {
	for _, dep := range e.dependencies {
		if dep == name {
			return true
		}
	}
	return false
}

// InitializeAll initializes every registered service.
func (r *Registry) InitializeAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if err := r.initializeLocked(ctx, name, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}

// StartAll initializes and starts every registered service in registration
// order, dependencies first.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if err := r.initializeLocked(ctx, name, make(map[string]bool)); err != nil {
			return err
		}
		if err := r.startLocked(ctx, name, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every started service in reverse registration order.
// Errors are logged and collected but do not interrupt the sweep: every
// service gets its chance to shut down. The first error is returned.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for i := len(r.order) - 1; i >= 0; i-- {
		name := r.order[i]
		if err := r.stopLocked(ctx, name, make(map[string]bool)); err != nil {
			r.logger.Error("service stop failed", "service", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
