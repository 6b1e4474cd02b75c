// Package unit defines the hosted unit contract: a path-owning bundle of
// processors driven through a five-stage lifecycle by the hosting runtime.
package unit

import (
	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/execution"
	"github.com/wehubfusion/Hestia/pkg/processor"
	"github.com/wehubfusion/Hestia/pkg/request"
)

// Stage is a unit's position in its lifecycle. Stages advance strictly
// forward; Disposed is terminal and reachable from any earlier stage.
type Stage int32

const (
	Instantiated Stage = iota
	Customized
	Initialized
	Activated
	Disposed
)

func (s Stage) String() string {
	switch s {
	case Instantiated:
		return "instantiated"
	case Customized:
		return "customized"
	case Initialized:
		return "initialized"
	case Activated:
		return "activated"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Unit is a hosted unit. The runtime drives the lifecycle methods
// sequentially for any one unit and never invokes a transition twice;
// implementations do not need to synchronize them. Processor, by contrast,
// is called from dispatch goroutines and must be safe alongside the
// lifecycle.
//
// Customize receives the unit's configuration document and may reject it
// with a configuration error, which aborts deployment before Initialize.
// Dispose runs best-effort from any non-terminal stage, including after a
// failed Initialize or Activate.
type Unit interface {
	Path() string
	Customize(doc *document.Document) error
	Initialize() error
	Activate() error
	Dispose() error
	Processor(segments []string, verb request.Verb) processor.Processor
}

// Handle lets a hosted unit ask for host-level actions without holding a
// reference to the runtime itself.
type Handle interface {
	// Shutdown requests a host shutdown. It must be safe to call from a
	// unit's own processing goroutine.
	Shutdown()
}

// Injectable is implemented by units that accept host collaborators. The
// runtime injects them exactly once, after registration and before
// Customize. Base implements it, so units embedding Base opt in
// automatically.
type Injectable interface {
	UseExecution(svc execution.Service)
	UseHandle(h Handle)
	UseResources(files []string)
}
