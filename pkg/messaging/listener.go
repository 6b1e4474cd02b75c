// Package messaging serves dispatch requests arriving over NATS. A Listener
// subscribes to the host's request subject space in a queue group, parses the
// message envelope, dispatches into the runtime, and answers on the reply
// subject. Middlewares wrap the dispatch handler for recovery, logging, and
// envelope validation.
package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/internal/metrics"
	"github.com/wehubfusion/Hestia/pkg/concurrency"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/message"
	"github.com/wehubfusion/Hestia/pkg/runtime"
)

const transportName = "nats"

// Config tunes the NATS listener.
type Config struct {
	// Prefix is the subject namespace requests arrive under.
	Prefix string

	// Queue is the queue group name; hosts sharing it split the load.
	Queue string

	// MaxConcurrent caps in-flight dispatches.
	MaxConcurrent int

	// DispatchTimeout bounds a single dispatch.
	DispatchTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests on shutdown.
	DrainTimeout time.Duration
}

// DefaultConfig returns listener settings sized from the environment.
func DefaultConfig() Config {
	return Config{
		Prefix:          "hestia",
		Queue:           "hestia-hosts",
		MaxConcurrent:   concurrency.LoadConfig().MaxConcurrent,
		DispatchTimeout: 30 * time.Second,
		DrainTimeout:    10 * time.Second,
	}
}

// Listener dispatches requests received over NATS request-reply. Multiple
// hosts subscribing with the same queue group split the request load.
type Listener struct {
	conn    *nats.Conn
	runtime *runtime.Runtime
	config  Config
	handler Handler
	limiter *concurrency.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger

	wg sync.WaitGroup
}

// NewListener creates a listener dispatching into rt. Zero config fields
// fall back to DefaultConfig values. Extra middlewares run between the
// built-in recovery/logging/validation chain and dispatch.
func NewListener(conn *nats.Conn, rt *runtime.Runtime, config Config, logger *zap.Logger, extra ...Middleware) (*Listener, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	defaults := DefaultConfig()
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	if config.Queue == "" {
		config.Queue = defaults.Queue
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = defaults.DispatchTimeout
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = defaults.DrainTimeout
	}

	l := &Listener{
		conn:    conn,
		runtime: rt,
		config:  config,
		limiter: concurrency.NewLimiter(config.MaxConcurrent),
		tracer:  otel.Tracer("hestia/messaging"),
		logger:  logger,
	}
	middlewares := append([]Middleware{
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		ValidationMiddleware(),
	}, extra...)
	l.handler = Chain(middlewares...)(l.dispatch)
	return l, nil
}

// Run subscribes and serves until ctx is cancelled, then drains the
// subscription and waits for in-flight dispatches up to DrainTimeout.
func (l *Listener) Run(ctx context.Context) error {
	subject := fmt.Sprintf("%s.requests.>", l.config.Prefix)
	sub, err := l.conn.QueueSubscribe(subject, l.config.Queue, func(m *nats.Msg) {
		l.wg.Add(1)
		if err := l.limiter.Go(ctx, func() error {
			defer l.wg.Done()
			return l.handle(m)
		}); err != nil {
			l.wg.Done()
			l.logger.Warn("Dispatch slot unavailable",
				zap.String("subject", m.Subject),
				zap.Error(err))
			metrics.DispatchTotal.WithLabelValues(transportName, metrics.OutcomeUnavailable).Inc()
			l.respondRaw(m, message.NewErrorReply(503, "unavailable", "host is saturated"))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	l.logger.Info("Listening for requests",
		zap.String("subject", subject),
		zap.String("queue", l.config.Queue),
		zap.Int("max_concurrent", l.config.MaxConcurrent))

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		l.logger.Warn("Subscription drain failed", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.logger.Info("Listener stopped")
		return nil
	case <-time.After(l.config.DrainTimeout):
		l.logger.Warn("Drain timeout elapsed with requests in flight",
			zap.Int64("active", l.limiter.CurrentActive()))
		return fmt.Errorf("drain timeout after %s with requests in flight", l.config.DrainTimeout)
	}
}

// handle parses, dispatches, and responds to one delivered message. The
// returned error feeds the limiter's circuit breaker; only host-side
// failures count.
func (l *Listener) handle(m *nats.Msg) error {
	start := time.Now()

	msg, err := message.FromNATSMsg(m)
	if err != nil {
		l.logger.Warn("Discarding malformed envelope",
			zap.String("subject", m.Subject),
			zap.Error(err))
		metrics.DispatchTotal.WithLabelValues(transportName, metrics.OutcomeClientError).Inc()
		l.respondRaw(m, message.NewErrorReply(400, errors.CodeValidation, err.Error()))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.config.DispatchTimeout)
	defer cancel()

	ctx, span := l.tracer.Start(ctx, "messaging.dispatch",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("message.path", msg.Path),
			attribute.String("message.verb", string(msg.Verb)),
			attribute.String("nats.subject", m.Subject)))
	defer span.End()

	reply, err := l.handler(ctx, msg)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.IsValidation(err) {
			reply = message.NewErrorReply(400, errors.CodeValidation, err.Error())
			err = nil
		} else {
			reply = message.NewErrorReply(500, "internal", "request processing failed")
		}
	case reply == nil:
		span.SetStatus(codes.Error, "no reply produced")
		reply = message.NewErrorReply(500, "internal", "no reply produced")
	default:
		span.SetStatus(codes.Ok, "Request dispatched")
	}

	reply.WithID(msg.ID)
	metrics.DispatchTotal.WithLabelValues(transportName, outcomeLabel(reply)).Inc()
	metrics.DispatchDuration.WithLabelValues(transportName).Observe(time.Since(start).Seconds())

	if respondErr := msg.Respond(reply); respondErr != nil {
		l.logger.Warn("Failed to respond",
			zap.String("message_id", msg.ID),
			zap.String("subject", m.Subject),
			zap.Error(respondErr))
	}
	return err
}

// dispatch is the innermost handler. It maps the envelope onto the runtime
// dispatcher and the outcome back onto a reply. The envelope path is
// authoritative when set; otherwise the path derives from the subject.
func (l *Listener) dispatch(ctx context.Context, msg *message.NATSMsg) (*message.Reply, error) {
	path := msg.Path
	if path == "" && msg.Subject != "" {
		derived, err := message.PathForSubject(l.config.Prefix, msg.Subject)
		if err != nil {
			return message.NewErrorReply(400, errors.CodeValidation, err.Error()), nil
		}
		path = derived
	}

	outcome, err := l.runtime.Dispatch(ctx, msg.ID, path, msg.Verb, msg.ToArgs())
	if err != nil {
		if errors.IsValidation(err) {
			return message.NewErrorReply(400, errors.CodeValidation, err.Error()), nil
		}
		return nil, err
	}

	switch outcome.Kind {
	case runtime.OutcomeProcessed:
		return message.NewReply(outcome.Response.Status(), outcome.Response.Body()), nil
	case runtime.OutcomeRedirect:
		return message.NewRedirectReply(outcome.Target), nil
	case runtime.OutcomeInactive:
		return message.NewErrorReply(503, "unavailable", "processor is not active"), nil
	default:
		return message.NewErrorReply(404, "not_found",
			fmt.Sprintf("no unit answers %s %q", msg.Verb, path)), nil
	}
}

// outcomeLabel maps a reply onto the dispatch outcome metric label.
func outcomeLabel(reply *message.Reply) string {
	switch {
	case reply.Status == 303:
		return metrics.OutcomeRedirect
	case reply.Status == 404:
		return metrics.OutcomeNotFound
	case reply.Status == 503:
		return metrics.OutcomeUnavailable
	case reply.Status >= 500:
		return metrics.OutcomeServerError
	case reply.Status >= 400:
		return metrics.OutcomeClientError
	default:
		return metrics.OutcomeOK
	}
}

// respondRaw answers a message that never parsed into an envelope.
func (l *Listener) respondRaw(m *nats.Msg, reply *message.Reply) {
	if m.Reply == "" {
		return
	}
	data, err := reply.ToBytes()
	if err != nil {
		l.logger.Error("Failed to encode reply", zap.Error(err))
		return
	}
	if err := m.Respond(data); err != nil {
		l.logger.Warn("Failed to respond",
			zap.String("subject", m.Subject),
			zap.Error(err))
	}
}
