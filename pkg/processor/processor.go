// Package processor defines the unit of dispatch: a processor owns the
// logic behind one (sub-path, verb) pair, can be switched on and off while
// the host keeps running, and may redirect a request instead of (or after)
// handling it.
package processor

import (
	"context"

	"github.com/wehubfusion/Hestia/pkg/request"
)

// Redirect selects how a processor participates in a request.
type Redirect int

const (
	// Invoke runs the processor's logic and returns its response.
	Invoke Redirect = iota

	// RedirectBeforeInvoke skips the logic entirely; the target is
	// computed from the request alone.
	RedirectBeforeInvoke

	// RedirectAfterInvoke runs the logic, then replaces the client-visible
	// result with a redirect computed from the request and the response.
	RedirectAfterInvoke
)

func (r Redirect) String() string {
	switch r {
	case RedirectBeforeInvoke:
		return "redirect-before-invoke"
	case RedirectAfterInvoke:
		return "redirect-after-invoke"
	default:
		return "invoke"
	}
}

// Processor handles requests for one (sub-path, verb) pair of a hosted
// unit.
//
// Process returns (nil, nil) without touching its logic when the processor
// is inactive; transports translate that sentinel into an unavailable
// result. SetActive takes effect immediately for subsequent calls, but a
// Process call already past the activeness check completes with the state
// it observed.
//
// RedirectTarget receives a nil response when the behavior was
// RedirectBeforeInvoke.
type Processor interface {
	Process(ctx context.Context, req request.Request) (request.Response, error)
	Active() bool
	SetActive(active bool)
	RedirectBehavior(req request.Request) Redirect
	RedirectTarget(req request.Request, resp request.Response) string
}
