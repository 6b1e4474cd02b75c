// Package runtime hosts units: it owns the path registry, drives each
// unit's lifecycle, and resolves request paths to the unit that answers
// them. One runtime environment exists per host process.
package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/internal/metrics"
	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/execution"
	"github.com/wehubfusion/Hestia/pkg/faults"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

// Hooks attach host components to the runtime's own lifecycle. OnActivate
// failures keep the runtime inactive; OnShutdown receives the number of
// units hosted when shutdown began and runs isolated, after all
// units are disposed. OnUnitAdded and OnUnitRemoved fire on successful
// deployments and explicit removals; the disposals of a shutdown do not
// fire OnUnitRemoved.
type Hooks struct {
	OnActivate    func() error
	OnShutdown    func(unitsHosted int)
	OnUnitAdded   func(path string)
	OnUnitRemoved func(path string)
}

// Runtime is the hosting environment. Activate and Shutdown are
// idempotent and share one lock; Add, Remove, and Resolve are safe for
// concurrent use.
type Runtime struct {
	execution execution.Service
	logger    *zap.Logger
	faults    faults.Handler
	hooks     Hooks

	mu           sync.Mutex
	activated    atomic.Bool
	shuttingDown atomic.Bool
	registry     registry
}

// NewRuntime creates an inactive runtime environment over the given
// execution service.
func NewRuntime(svc execution.Service, logger *zap.Logger) (*Runtime, error) {
	if svc == nil {
		return nil, fmt.Errorf("execution service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Runtime{execution: svc, logger: logger}, nil
}

// WithFaults installs the fault handler used for deployment and dispatch
// failures. Set before Activate.
func (rt *Runtime) WithFaults(h faults.Handler) *Runtime {
	rt.faults = h
	return rt
}

// WithHooks installs the component hooks. Set before Activate.
func (rt *Runtime) WithHooks(h Hooks) *Runtime {
	rt.hooks = h
	return rt
}

// Active reports whether the runtime has been activated and not yet shut
// down.
func (rt *Runtime) Active() bool {
	return rt.activated.Load()
}

// Handle returns the host handle injected into units.
func (rt *Runtime) Handle() unit.Handle {
	return &runtimeHandle{rt: rt}
}

// Units returns the registered paths in sorted order.
func (rt *Runtime) Units() []string {
	return rt.registry.paths()
}

// Activate brings the runtime up: the execution service first, then the
// component hook. Activating an active runtime is a no-op; a failed
// activation leaves the runtime inactive and is returned to the caller.
func (rt *Runtime) Activate() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.activated.Load() {
		return nil
	}
	if rt.shuttingDown.Load() {
		return errors.NewIllegalState("runtime environment has been shut down")
	}

	if err := rt.execution.Activate(); err != nil {
		rt.logger.Error("Runtime activation failed", zap.Error(err))
		return fmt.Errorf("activating execution service: %w", err)
	}
	if rt.hooks.OnActivate != nil {
		if err := rt.hooks.OnActivate(); err != nil {
			rt.logger.Error("Runtime activation failed", zap.Error(err))
			return fmt.Errorf("activating runtime components: %w", err)
		}
	}

	rt.activated.Store(true)
	rt.logger.Info("Runtime environment activated")
	return nil
}

// Add deploys a unit: registers its path, injects collaborators, and
// drives customization, initialization, and activation in order. The
// runtime must be active.
//
// A path collision rejects the new unit and leaves the incumbent
// untouched. A lifecycle failure is logged and returned with the unit
// still registered up to the failed stage; the caller may Remove it to
// dispose the partial state.
func (rt *Runtime) Add(u unit.Unit, doc *document.Document, resourceFiles []string) error {
	if u == nil {
		return fmt.Errorf("unit cannot be nil")
	}
	if !rt.activated.Load() {
		return errors.NewIllegalState("runtime environment has not been activated")
	}

	path := u.Path()
	logger := rt.logger.With(zap.String("path", path))

	if _, exists := rt.registry.lookup(path); exists {
		logger.Warn("Unit rejected, path already registered")
		metrics.DeploymentsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return errors.NewDuplicatePath(path)
	}
	if !rt.registry.insert(path, u) {
		logger.Warn("Unit rejected, path already registered")
		metrics.DeploymentsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return errors.NewDuplicatePath(path)
	}
	metrics.UnitsHosted.Inc()

	if inj, ok := u.(unit.Injectable); ok {
		inj.UseExecution(rt.execution)
		inj.UseHandle(rt.Handle())
		inj.UseResources(resourceFiles)
	}

	if doc != nil {
		if err := u.Customize(doc); err != nil {
			return rt.deployFailed(logger, path, "customize", err)
		}
	}
	if err := u.Initialize(); err != nil {
		return rt.deployFailed(logger, path, "initialize", err)
	}
	if err := u.Activate(); err != nil {
		return rt.deployFailed(logger, path, "activate", err)
	}

	metrics.DeploymentsTotal.WithLabelValues(metrics.OutcomeDeployed).Inc()
	logger.Info("Unit deployed", zap.Int("units_hosted", rt.registry.size()))
	if rt.hooks.OnUnitAdded != nil {
		rt.hooks.OnUnitAdded(path)
	}
	return nil
}

func (rt *Runtime) deployFailed(logger *zap.Logger, path, stage string, err error) error {
	logger.Error("Unit deployment failed",
		zap.String("stage", stage),
		zap.Error(err))
	metrics.DeploymentsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	if rt.faults != nil {
		rt.faults.Report(err, map[string]string{"path": path, "stage": stage})
	}
	return err
}

// Remove atomically takes the unit at path out of the registry and
// disposes it. It reports false when no unit is registered there. A
// dispose failure is returned after the unit has already been removed.
func (rt *Runtime) Remove(path string) (bool, error) {
	if !rt.activated.Load() {
		return false, errors.NewIllegalState("runtime environment has not been activated")
	}

	u, ok := rt.registry.take(path)
	if !ok {
		return false, nil
	}
	metrics.UnitsHosted.Dec()
	metrics.RemovalsTotal.Inc()
	if rt.hooks.OnUnitRemoved != nil {
		rt.hooks.OnUnitRemoved(path)
	}

	if err := u.Dispose(); err != nil {
		rt.logger.Warn("Unit dispose failed",
			zap.String("path", path),
			zap.Error(err))
		return true, err
	}
	rt.logger.Info("Unit removed", zap.String("path", path))
	return true, nil
}

// Shutdown stops the runtime immediately: every unit is disposed with
// failures contained, the shutdown hook runs, and the execution service is
// signalled without waiting for queued work. It is idempotent and safe to
// call from a unit's own processing goroutine.
func (rt *Runtime) Shutdown() {
	_ = rt.shutdown(false, 0)
}

// ShutdownAwait is Shutdown with a bounded drain: the execution service
// finishes queued work for up to timeout before a hard stop. Unlike
// Shutdown it must not be called from a pool task.
func (rt *Runtime) ShutdownAwait(timeout time.Duration) error {
	return rt.shutdown(true, timeout)
}

func (rt *Runtime) shutdown(drain bool, timeout time.Duration) error {
	if !rt.activated.Load() {
		return nil
	}
	if rt.shuttingDown.Swap(true) {
		// another goroutine is already shutting the runtime down; do not
		// block, the caller may be a unit's processing goroutine
		return nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.activated.Store(false)
	hosted := rt.registry.size()
	rt.logger.Info("Runtime environment shutting down", zap.Int("units", hosted))

	for _, path := range rt.registry.paths() {
		u, ok := rt.registry.take(path)
		if !ok {
			continue
		}
		metrics.UnitsHosted.Dec()
		rt.disposeContained(path, u)
	}

	if rt.hooks.OnShutdown != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					rt.logger.Error("Shutdown hook panicked", zap.Any("panic", r))
				}
			}()
			rt.hooks.OnShutdown(hosted)
		}()
	}

	var err error
	if drain {
		err = rt.execution.ShutdownAwait(timeout)
	} else {
		rt.execution.Shutdown()
	}
	rt.logger.Info("Runtime environment shut down")
	return err
}

func (rt *Runtime) disposeContained(path string, u unit.Unit) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("Unit dispose panicked during shutdown",
				zap.String("path", path),
				zap.Any("panic", r))
		}
	}()
	if err := u.Dispose(); err != nil {
		rt.logger.Warn("Unit dispose failed during shutdown",
			zap.String("path", path),
			zap.Error(err))
	}
}

// runtimeHandle is the unit-facing view of the runtime.
type runtimeHandle struct {
	rt *Runtime
}

func (h *runtimeHandle) Shutdown() {
	h.rt.Shutdown()
}
