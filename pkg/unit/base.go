package unit

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/execution"
	"github.com/wehubfusion/Hestia/pkg/processor"
	"github.com/wehubfusion/Hestia/pkg/request"
)

// Hooks are the points where a concrete unit plugs its own behavior into
// Base. Every hook is optional; BuildProcessors is where processors are
// registered.
type Hooks struct {
	OnCustomize     func(doc *document.Document) error
	BuildProcessors func(b *Base) error
	OnActivate      func() error
	OnDispose       func() error
}

type processorKey struct {
	sub  string
	verb request.Verb
}

// Base implements Unit by composition: a concrete unit supplies Hooks and
// Base runs the stage machinery, the processor table, and the injection
// points. The processor table is guarded so dispatch may overlap the
// lifecycle; the lifecycle transitions themselves rely on the runtime's
// sequential invocation.
type Base struct {
	path   string
	logger *zap.Logger
	hooks  Hooks
	stage  atomic.Int32

	tableMu    sync.RWMutex
	processors map[processorKey]processor.Processor

	execution execution.Service
	handle    Handle
	resources []string
}

// NewBase creates a unit container for path. An empty path denotes the
// root unit.
func NewBase(path string, logger *zap.Logger, hooks Hooks) (*Base, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Base{
		path:       path,
		logger:     logger,
		hooks:      hooks,
		processors: make(map[processorKey]processor.Processor),
	}, nil
}

// Path returns the path the unit claims in the registry.
func (b *Base) Path() string {
	return b.path
}

// Stage returns the current lifecycle stage.
func (b *Base) Stage() Stage {
	return Stage(b.stage.Load())
}

// Logger returns the unit's logger for use inside hooks.
func (b *Base) Logger() *zap.Logger {
	return b.logger
}

// UseExecution injects the execution capability. The runtime calls this
// exactly once, before Customize.
func (b *Base) UseExecution(svc execution.Service) {
	b.execution = svc
}

// UseHandle injects the runtime handle. The runtime calls this exactly
// once, before Customize.
func (b *Base) UseHandle(h Handle) {
	b.handle = h
}

// UseResources injects the unit's resource file paths. nil means no
// resources were configured.
func (b *Base) UseResources(files []string) {
	b.resources = files
}

// Execution returns the injected execution capability.
func (b *Base) Execution() execution.Service {
	return b.execution
}

// RuntimeHandle returns the injected host handle.
func (b *Base) RuntimeHandle() Handle {
	return b.handle
}

// Resources returns the injected resource file paths.
func (b *Base) Resources() []string {
	return b.resources
}

// Register adds a processor under (sub, verb). Registering twice for the
// same pair logs a warning and replaces the earlier processor. A sub of ""
// registers a catch-all for the verb: it answers any trailing segments,
// which then reach the processor as request segments.
func (b *Base) Register(sub string, verb request.Verb, p processor.Processor) {
	key := processorKey{sub: sub, verb: verb}
	b.tableMu.Lock()
	defer b.tableMu.Unlock()
	if _, ok := b.processors[key]; ok {
		b.logger.Warn("Processor already registered, replacing",
			zap.String("path", b.path),
			zap.String("sub", sub),
			zap.String("verb", verb.String()))
	}
	b.processors[key] = p
}

// Processor returns the processor answering segments+verb, or nil. An
// exact (joined segments, verb) entry wins; otherwise a catch-all entry
// for the verb answers.
func (b *Base) Processor(segments []string, verb request.Verb) processor.Processor {
	b.tableMu.RLock()
	defer b.tableMu.RUnlock()
	if p, ok := b.processors[processorKey{sub: joinSegments(segments), verb: verb}]; ok {
		return p
	}
	if len(segments) > 0 {
		if p, ok := b.processors[processorKey{sub: "", verb: verb}]; ok {
			return p
		}
	}
	return nil
}

// Customize runs the customization hook against doc. Only valid before
// Initialize.
func (b *Base) Customize(doc *document.Document) error {
	if s := b.Stage(); s != Instantiated {
		return errors.NewLifecycle("customize", fmt.Errorf("stage is %s", s))
	}
	if b.hooks.OnCustomize != nil {
		if err := b.hooks.OnCustomize(doc); err != nil {
			if errors.CodeOf(err) != "" {
				return err
			}
			return errors.NewConfiguration("customization rejected", err)
		}
	}
	b.stage.Store(int32(Customized))
	return nil
}

// Initialize builds the unit's processors.
func (b *Base) Initialize() error {
	if s := b.Stage(); s != Instantiated && s != Customized {
		return errors.NewLifecycle("initialize", fmt.Errorf("stage is %s", s))
	}
	if b.hooks.BuildProcessors != nil {
		if err := b.hooks.BuildProcessors(b); err != nil {
			return errors.NewLifecycle("initialize", err)
		}
	}
	b.stage.Store(int32(Initialized))
	b.logger.Debug("Unit initialized", zap.String("path", b.path))
	return nil
}

// Activate runs the activation hook. Only valid after Initialize.
func (b *Base) Activate() error {
	if s := b.Stage(); s != Initialized {
		return errors.NewLifecycle("activate", fmt.Errorf("stage is %s", s))
	}
	if b.hooks.OnActivate != nil {
		if err := b.hooks.OnActivate(); err != nil {
			return errors.NewLifecycle("activate", err)
		}
	}
	b.stage.Store(int32(Activated))
	return nil
}

// Dispose deactivates every processor, then runs the dispose hook. It is
// reachable from any non-terminal stage and a second call is a no-op.
func (b *Base) Dispose() error {
	if b.Stage() == Disposed {
		return nil
	}
	b.tableMu.RLock()
	for _, p := range b.processors {
		p.SetActive(false)
	}
	b.tableMu.RUnlock()

	var err error
	if b.hooks.OnDispose != nil {
		err = b.hooks.OnDispose()
	}
	b.stage.Store(int32(Disposed))
	return err
}

func joinSegments(segments []string) string {
	return strings.Join(segments, "/")
}
