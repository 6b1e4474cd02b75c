// Package script hosts units implemented as JavaScript artifacts. The
// artifact is a program that evaluates to a definition object:
//
//	({
//	    path: "quote",
//	    processors: [
//	        {verb: "GET", sub: "", handler: function (args, segments) {
//	            return {quote: "..." + args.author};
//	        }}
//	    ]
//	})
//
// The declared path becomes the unit's registry path and each table entry
// becomes a processor. Handlers run on pooled runtimes with a per-call
// timeout; console output is forwarded to the host log.
package script

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/processor"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

// Implementation identifies script units in bundle manifests.
const Implementation = "script"

// Options tune a script unit. A configuration document may override both
// fields through "pool" and "timeout_ms" keys.
type Options struct {
	// PoolSize is the number of JavaScript runtimes kept ready.
	PoolSize int

	// CallTimeout bounds a single handler invocation. On expiry the runtime
	// is interrupted and the call fails with a timeout.
	CallTimeout time.Duration
}

// DefaultOptions returns the sizing used by the bundle factory.
func DefaultOptions() Options {
	return Options{PoolSize: 4, CallTimeout: 5 * time.Second}
}

// Factory adapts New to the bundle factory contract; the fetched artifact
// is the program source.
func Factory(artifact []byte, logger *zap.Logger) (unit.Unit, error) {
	return New(artifact, DefaultOptions(), logger)
}

type scripted struct {
	program *goja.Program
	table   []key
	logger  *zap.Logger
	opts    Options
	pool    *pool
}

// New compiles src, validates the definition it evaluates to, and wraps it
// in a hosted unit claiming the script's declared path.
func New(src []byte, opts Options, logger *zap.Logger) (*unit.Base, error) {
	if len(src) == 0 {
		return nil, errors.NewConfiguration("script unit requires an artifact", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultOptions().PoolSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}

	program, err := goja.Compile("unit.js", string(src), true)
	if err != nil {
		return nil, errors.NewConfiguration("script does not compile", err)
	}

	// validate the definition once; the pool re-instantiates it per runtime
	probe, err := instantiate(program, zap.NewNop())
	if err != nil {
		return nil, errors.NewConfiguration("script definition rejected", err)
	}

	s := &scripted{program: program, table: probe.keys(), logger: logger, opts: opts}
	return unit.NewBase(probe.path, logger, unit.Hooks{
		OnCustomize:     s.customize,
		BuildProcessors: s.build,
		OnDispose:       s.dispose,
	})
}

func (s *scripted) customize(doc *document.Document) error {
	if doc.Has("pool") {
		n, err := doc.Int("pool")
		if err != nil {
			return err
		}
		if n <= 0 {
			return errors.NewConfiguration("pool must be positive", nil)
		}
		s.opts.PoolSize = n
	}
	if doc.Has("timeout_ms") {
		ms, err := doc.Int("timeout_ms")
		if err != nil {
			return err
		}
		if ms <= 0 {
			return errors.NewConfiguration("timeout_ms must be positive", nil)
		}
		s.opts.CallTimeout = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func (s *scripted) build(b *unit.Base) error {
	p, err := newPool(s.program, s.logger, s.opts.PoolSize)
	if err != nil {
		return err
	}
	s.pool = p
	for _, k := range s.table {
		b.Register(k.sub, k.verb, processor.New(s.handlerFor(k)))
	}
	return nil
}

func (s *scripted) dispose() error {
	if s.pool != nil {
		s.pool.close()
	}
	return nil
}

func (s *scripted) handlerFor(k key) processor.ProcessFunc {
	return func(ctx context.Context, req request.Request) (request.Response, error) {
		return s.invoke(ctx, k, req)
	}
}

func (s *scripted) invoke(ctx context.Context, k key, req request.Request) (request.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()

	inst, err := s.pool.acquire(callCtx)
	if err != nil {
		return nil, fmt.Errorf("acquiring script runtime: %w", err)
	}
	defer s.pool.release(inst)

	// interrupt the runtime when the call budget expires; the watcher is
	// joined before release so a late interrupt cannot hit a pooled runtime
	returned := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-callCtx.Done():
			inst.vm.Interrupt("call timeout")
		case <-returned:
		}
	}()

	handler := inst.handlers[k]
	value, err := handler(goja.Undefined(),
		inst.vm.ToValue(scriptArgs(req)),
		inst.vm.ToValue(segments(req)))
	close(returned)
	<-watcher

	if err != nil {
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("script handler for %s %q interrupted: %w",
				k.verb, k.sub, errors.ErrTimeout)
		}
		var exc *goja.Exception
		if stderrors.As(err, &exc) {
			return nil, fmt.Errorf("script handler failed: %s", exc.Error())
		}
		return nil, fmt.Errorf("script handler failed: %w", err)
	}
	return responseFrom(value), nil
}

// scriptArgs converts the request arguments for the JavaScript side. Byte
// values arrive as strings, which is what scripts expect of JSON bodies.
func scriptArgs(req request.Request) map[string]any {
	basic, ok := req.(*request.Basic)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(basic.Args()))
	for k, v := range basic.Args() {
		if raw, isBytes := v.([]byte); isBytes {
			out[k] = string(raw)
		} else {
			out[k] = v
		}
	}
	return out
}

func segments(req request.Request) []string {
	if basic, ok := req.(*request.Basic); ok && basic.Segments != nil {
		return basic.Segments
	}
	return []string{}
}

// responseFrom maps a handler's return value onto a response body. Objects
// become the body, undefined an empty body, and anything else lands under
// a "result" key.
func responseFrom(value goja.Value) request.Response {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return request.NewResponse(nil)
	}
	switch body := value.Export().(type) {
	case map[string]any:
		return request.NewResponse(body)
	default:
		return request.NewResponse(map[string]any{"result": body})
	}
}
