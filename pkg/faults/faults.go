// Package faults routes failures caught at dispatch and deployment
// boundaries to a configurable backend. Handlers are looked up by name in
// a registry, so the launcher can select one from configuration without
// the runtime knowing any backend.
package faults

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

// Handler receives failures after they have been contained. Report must
// not panic and should not block the caller.
type Handler interface {
	Report(err error, tags map[string]string)
	Close()
}

// Config carries backend settings. Fields unused by a backend are ignored.
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// Factory builds a handler from its configuration.
type Factory func(cfg Config, logger *zap.Logger) (Handler, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds a handler factory under name, replacing any previous one.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// New builds the handler registered under name.
func New(name string, cfg Config, logger *zap.Logger) (Handler, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, errors.NewConfiguration(fmt.Sprintf("unknown fault handler %q", name), nil)
	}
	return factory(cfg, logger)
}

// Names returns the registered handler names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}

func init() {
	Register("log", NewLogHandler)
	Register("sentry", NewSentryHandler)
}

// LogHandler reports faults to the structured log and nothing else. It is
// the default when no handler is configured.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a log-backed handler.
func NewLogHandler(_ Config, logger *zap.Logger) (Handler, error) {
	if logger == nil {
		return nil, errors.NewConfiguration("logger cannot be nil", nil)
	}
	return &LogHandler{logger: logger}, nil
}

// Report logs the fault with its tags.
func (h *LogHandler) Report(err error, tags map[string]string) {
	fields := make([]zap.Field, 0, len(tags)+1)
	fields = append(fields, zap.Error(err))
	for k, v := range tags {
		fields = append(fields, zap.String(k, v))
	}
	h.logger.Error("Fault reported", fields...)
}

// Close is a no-op.
func (h *LogHandler) Close() {}

// SentryHandler forwards faults to Sentry.
type SentryHandler struct {
	logger *zap.Logger
}

// NewSentryHandler initializes the Sentry SDK from cfg.
func NewSentryHandler(cfg Config, logger *zap.Logger) (Handler, error) {
	if logger == nil {
		return nil, errors.NewConfiguration("logger cannot be nil", nil)
	}
	if cfg.DSN == "" {
		return nil, errors.NewConfiguration("sentry fault handler requires a DSN", nil)
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	})
	if err != nil {
		return nil, errors.NewConfiguration("initializing sentry", err)
	}
	return &SentryHandler{logger: logger}, nil
}

// Report captures the error with its tags attached to the event scope.
func (h *SentryHandler) Report(err error, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Close flushes buffered events.
func (h *SentryHandler) Close() {
	if !sentry.Flush(2 * time.Second) {
		h.logger.Warn("Sentry flush timed out, events may be lost")
	}
}
