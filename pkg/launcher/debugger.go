package launcher

import (
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/bundle"
	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/execution"
	"github.com/wehubfusion/Hestia/pkg/runtime"
	"github.com/wehubfusion/Hestia/pkg/unit"
	"github.com/wehubfusion/Hestia/pkg/units"
)

// Debug pool sizing. Local development hosts a handful of units and the
// occasional dispatch, never production load.
const (
	debugWorkers   = 2
	debugQueueSize = 32
)

// Debugger is the local development assembly: a runtime on a small pool
// and a debug deployer that merges a bundle's shared configuration into
// each unit's own. There is no deploy directory scanning and no transport;
// units and bundles are added explicitly and dispatched through Runtime.
type Debugger struct {
	rt       *runtime.Runtime
	deployer *bundle.DebugDeployer
}

// NewDebugger creates and activates a debug host. Merged configuration
// documents are persisted under scratchDir; empty means a directory below
// the system temp dir.
func NewDebugger(scratchDir string, logger *zap.Logger) (*Debugger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	units.RegisterBuiltins()

	svc, err := execution.NewPooled(execution.Config{
		Workers:   debugWorkers,
		QueueSize: debugQueueSize,
	}, logger)
	if err != nil {
		return nil, err
	}
	rt, err := runtime.NewRuntime(svc, logger)
	if err != nil {
		return nil, err
	}
	if err := rt.Activate(); err != nil {
		return nil, err
	}

	deployer, err := bundle.NewDebugDeployer(rt, scratchDir, logger)
	if err != nil {
		rt.Shutdown()
		return nil, err
	}
	return &Debugger{rt: rt, deployer: deployer}, nil
}

// WithVersion sets the runtime version matched against bundle requires
// constraints.
func (d *Debugger) WithVersion(version string) *Debugger {
	d.deployer.WithRuntimeVersion(version)
	return d
}

// Runtime exposes the hosted runtime for dispatching and inspection.
func (d *Debugger) Runtime() *runtime.Runtime {
	return d.rt
}

// Deploy deploys the bundle manifest at path with the debug-mode shared
// configuration merge.
func (d *Debugger) Deploy(manifestPath string) error {
	return d.deployer.Deploy(manifestPath)
}

// Add hosts an explicitly constructed unit. doc may be nil for units that
// need no customization.
func (d *Debugger) Add(u unit.Unit, doc *document.Document) error {
	return d.rt.Add(u, doc, nil)
}

// Close shuts the runtime down, disposing every hosted unit.
func (d *Debugger) Close() {
	d.rt.Shutdown()
}
