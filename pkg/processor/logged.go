package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/faults"
	"github.com/wehubfusion/Hestia/pkg/request"
)

// Logged wraps a Processor so that failures never escape the dispatch
// boundary: panics are recovered, errors are logged and reported to the
// fault handler, and the caller always receives a renderable response.
// The inactive sentinel passes through untouched.
type Logged struct {
	inner  Processor
	name   string
	logger *zap.Logger
	faults faults.Handler
}

// NewLogged decorates inner. name identifies the processor in logs and
// fault reports; handler may be nil to skip fault reporting.
func NewLogged(inner Processor, name string, logger *zap.Logger, handler faults.Handler) (*Logged, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner processor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Logged{inner: inner, name: name, logger: logger, faults: handler}, nil
}

// Process delegates to the wrapped processor and converts any failure into
// an error-bearing response.
func (l *Logged) Process(ctx context.Context, req request.Request) (resp request.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("processor panic: %v", r)
			l.report(perr)
			resp = request.NewInternalError(perr.Error())
			err = nil
		}
	}()

	resp, err = l.inner.Process(ctx, req)
	if err == nil {
		return resp, nil
	}

	l.report(err)
	if errors.IsValidation(err) {
		return request.NewValidationFailure(err.Error()), nil
	}
	return request.NewInternalError(err.Error()), nil
}

func (l *Logged) report(err error) {
	l.logger.Error("Processing failed",
		zap.String("processor", l.name),
		zap.Error(err))
	if l.faults != nil {
		l.faults.Report(err, map[string]string{"processor": l.name})
	}
}

// Active reports the wrapped processor's activeness.
func (l *Logged) Active() bool {
	return l.inner.Active()
}

// SetActive toggles the wrapped processor.
func (l *Logged) SetActive(active bool) {
	l.inner.SetActive(active)
}

// RedirectBehavior delegates to the wrapped processor.
func (l *Logged) RedirectBehavior(req request.Request) Redirect {
	return l.inner.RedirectBehavior(req)
}

// RedirectTarget delegates to the wrapped processor.
func (l *Logged) RedirectTarget(req request.Request, resp request.Response) string {
	return l.inner.RedirectTarget(req, resp)
}
