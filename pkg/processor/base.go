package processor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/wehubfusion/Hestia/pkg/request"
)

// ProcessFunc is the logic a Base processor runs for an active request.
type ProcessFunc func(ctx context.Context, req request.Request) (request.Response, error)

// BehaviorFunc decides the redirect behavior for a request.
type BehaviorFunc func(req request.Request) Redirect

// TargetFunc builds the redirect target. resp is nil when the behavior was
// RedirectBeforeInvoke.
type TargetFunc func(req request.Request, resp request.Response) string

// Base is a Processor assembled from functions. Units compose their
// processors from it instead of reimplementing activeness and redirect
// plumbing.
type Base struct {
	active   atomic.Bool
	process  ProcessFunc
	behavior BehaviorFunc
	target   TargetFunc
}

// New creates an active processor around process.
func New(process ProcessFunc) *Base {
	b := &Base{process: process}
	b.active.Store(true)
	return b
}

// NewInactive creates a processor that starts inactive and must be
// switched on before it handles requests.
func NewInactive(process ProcessFunc) *Base {
	return &Base{process: process}
}

// WithRedirect installs the redirect policy and returns the processor.
func (b *Base) WithRedirect(behavior BehaviorFunc, target TargetFunc) *Base {
	b.behavior = behavior
	b.target = target
	return b
}

// Process runs the logic, or returns the (nil, nil) sentinel when
// inactive.
func (b *Base) Process(ctx context.Context, req request.Request) (request.Response, error) {
	if !b.active.Load() {
		return nil, nil
	}
	if b.process == nil {
		return nil, fmt.Errorf("processor has no process function")
	}
	return b.process(ctx, req)
}

// Active reports the activeness flag.
func (b *Base) Active() bool {
	return b.active.Load()
}

// SetActive toggles the activeness flag. The write is visible to the next
// Process call on any goroutine.
func (b *Base) SetActive(active bool) {
	b.active.Store(active)
}

// RedirectBehavior returns the installed policy's decision, defaulting to
// Invoke.
func (b *Base) RedirectBehavior(req request.Request) Redirect {
	if b.behavior == nil {
		return Invoke
	}
	return b.behavior(req)
}

// RedirectTarget returns the installed target builder's result, defaulting
// to the empty string.
func (b *Base) RedirectTarget(req request.Request, resp request.Response) string {
	if b.target == nil {
		return ""
	}
	return b.target(req, resp)
}
