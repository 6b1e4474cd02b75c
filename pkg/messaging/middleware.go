package messaging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/message"
)

// Handler processes one inbound request envelope and produces the reply for
// the reply subject. Returning an error instead of a reply means the host
// itself failed; the listener answers with a 500 reply and records the
// failure against the circuit breaker.
type Handler func(ctx context.Context, msg *message.NATSMsg) (*message.Reply, error)

// Middleware wraps a handler to add behavior around it.
type Middleware func(Handler) Handler

// Chain combines middlewares so the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// RecoveryMiddleware converts handler panics into errors so a single request
// cannot take down the listener.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *message.NATSMsg) (reply *message.Reply, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Handler panic recovered",
						zap.String("subject", msg.Subject),
						zap.Any("panic", r))
					reply = nil
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// LoggingMiddleware logs each request with its outcome and duration.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *message.NATSMsg) (*message.Reply, error) {
			start := time.Now()
			logger.Debug("Processing request",
				zap.String("message_id", msg.ID),
				zap.String("path", msg.Path),
				zap.String("verb", string(msg.Verb)))

			reply, err := next(ctx, msg)
			if err != nil {
				logger.Error("Request failed",
					zap.String("message_id", msg.ID),
					zap.String("path", msg.Path),
					zap.Duration("duration", time.Since(start)),
					zap.Error(err))
				return reply, err
			}

			status := 0
			if reply != nil {
				status = reply.Status
			}
			logger.Debug("Request completed",
				zap.String("message_id", msg.ID),
				zap.String("path", msg.Path),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)))
			return reply, nil
		}
	}
}

// ValidationMiddleware rejects malformed envelopes with a 400 reply before
// they reach dispatch. Validation also normalizes the verb.
func ValidationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *message.NATSMsg) (*message.Reply, error) {
			if msg.Message == nil {
				return message.NewErrorReply(400, errors.CodeValidation, "empty message envelope"), nil
			}
			if err := msg.Validate(); err != nil {
				return message.NewErrorReply(400, errors.CodeValidation, err.Error()), nil
			}
			return next(ctx, msg)
		}
	}
}
