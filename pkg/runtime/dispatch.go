package runtime

import (
	"context"

	"github.com/wehubfusion/Hestia/pkg/processor"
	"github.com/wehubfusion/Hestia/pkg/request"
)

// OutcomeKind classifies what dispatching a request produced.
type OutcomeKind int

const (
	// OutcomeNotFound means no unit answered the path and verb.
	OutcomeNotFound OutcomeKind = iota
	// OutcomeProcessed means the processor ran and produced a response.
	OutcomeProcessed
	// OutcomeInactive means the processor declined with the no-result
	// sentinel because it is deactivated.
	OutcomeInactive
	// OutcomeRedirect means the caller should redirect to Target instead of
	// using a response body.
	OutcomeRedirect
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNotFound:
		return "not-found"
	case OutcomeProcessed:
		return "processed"
	case OutcomeInactive:
		return "inactive"
	case OutcomeRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Outcome is the transport-independent result of dispatching one request.
type Outcome struct {
	Kind     OutcomeKind
	Response request.Response
	Target   string
}

// Dispatch resolves path and verb to a processor and runs it with the
// redirect policy applied. The request is built from the trailing segments
// the resolver did not consume, and args are parsed before any unit logic
// runs, so a parse failure surfaces as a validation error with the unit
// untouched. Transport adapters map the outcome onto their wire format; a
// returned error means parsing or the processor itself failed and the
// adapter decides the status from the error's code.
func (rt *Runtime) Dispatch(ctx context.Context, id, path string, verb request.Verb, args request.Args) (Outcome, error) {
	u, remaining, ok := rt.Resolve(path, verb)
	if !ok {
		return Outcome{Kind: OutcomeNotFound}, nil
	}

	p := u.Processor(remaining, verb)
	if p == nil {
		return Outcome{Kind: OutcomeNotFound}, nil
	}

	req := request.NewBasic(id, remaining)
	if err := req.Parse(args); err != nil {
		return Outcome{}, err
	}

	// The redirect policy is a single decision per request, taken once.
	behavior := p.RedirectBehavior(req)
	if behavior == processor.RedirectBeforeInvoke {
		return Outcome{Kind: OutcomeRedirect, Target: p.RedirectTarget(req, nil)}, nil
	}

	resp, err := p.Process(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if resp == nil {
		return Outcome{Kind: OutcomeInactive}, nil
	}

	if behavior == processor.RedirectAfterInvoke {
		return Outcome{Kind: OutcomeRedirect, Target: p.RedirectTarget(req, resp)}, nil
	}

	return Outcome{Kind: OutcomeProcessed, Response: resp}, nil
}
