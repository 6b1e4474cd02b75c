// Package events publishes host lifecycle events over NATS so operators and
// sibling services can observe activations, deployments, and removals
// without polling. Publishing is best-effort: failures are retried a few
// times and then dropped, and a circuit breaker stops attempts entirely
// while the broker is unreachable.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/concurrency"
)

// Event kinds carried in the envelope.
const (
	KindRuntimeActivated = "runtime.activated"
	KindRuntimeShutdown  = "runtime.shutdown"
	KindUnitDeployed     = "unit.deployed"
	KindUnitRemoved      = "unit.removed"
)

// Event is the JSON envelope published for a lifecycle change.
type Event struct {
	// Kind names what happened.
	Kind string `json:"kind"`

	// Host identifies the publishing host instance.
	Host string `json:"host,omitempty"`

	// Path is the affected unit path for unit events.
	Path string `json:"path,omitempty"`

	// Detail carries additional key-value context.
	Detail map[string]string `json:"detail,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt string `json:"createdAt"`
}

// Config holds configuration for the event publisher
type Config struct {
	Subject    string        // Subject to publish events to (default: "hestia.events")
	MaxRetries int           // Maximum number of retry attempts (default: 3)
	RetryDelay time.Duration // Delay between retries (default: 1s)
	Logger     *zap.Logger   // Custom logger instance (optional, uses default if nil)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	logger, _ := zap.NewProduction()
	return &Config{
		Subject:    "hestia.events",
		MaxRetries: 3,
		RetryDelay: time.Second,
		Logger:     logger,
	}
}

// Publisher publishes lifecycle events on a NATS subject.
type Publisher struct {
	conn    *nats.Conn
	config  *Config
	breaker *concurrency.CircuitBreaker
	host    string
	logger  *zap.Logger
}

// NewPublisher creates a publisher with default configuration.
func NewPublisher(conn *nats.Conn) (*Publisher, error) {
	return NewPublisherWithConfig(conn, DefaultConfig())
}

// NewPublisherWithConfig creates a publisher with custom configuration.
func NewPublisherWithConfig(conn *nats.Conn, config *Config) (*Publisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	host, _ := os.Hostname()
	return &Publisher{
		conn:   conn,
		config: config,
		// 5 consecutive failures stop publishing until the broker recovers.
		breaker: concurrency.NewCircuitBreaker(5, 30*time.Second),
		host:    host,
		logger:  logger,
	}, nil
}

// RuntimeActivated publishes the runtime activation event.
func (p *Publisher) RuntimeActivated(ctx context.Context, version string) {
	p.publish(ctx, Event{
		Kind:   KindRuntimeActivated,
		Detail: map[string]string{"version": version},
	})
}

// RuntimeShutdown publishes the runtime shutdown event.
func (p *Publisher) RuntimeShutdown(ctx context.Context, unitsHosted int) {
	p.publish(ctx, Event{
		Kind:   KindRuntimeShutdown,
		Detail: map[string]string{"units_hosted": fmt.Sprintf("%d", unitsHosted)},
	})
}

// UnitDeployed publishes a deployment event for path. The implementation
// identifier is optional; callers deploying programmatic units pass "".
func (p *Publisher) UnitDeployed(ctx context.Context, path, implementation string) {
	event := Event{Kind: KindUnitDeployed, Path: path}
	if implementation != "" {
		event.Detail = map[string]string{"implementation": implementation}
	}
	p.publish(ctx, event)
}

// UnitRemoved publishes a removal event for path.
func (p *Publisher) UnitRemoved(ctx context.Context, path string) {
	p.publish(ctx, Event{Kind: KindUnitRemoved, Path: path})
}

// publish stamps, encodes, and publishes the event with retries. Events are
// best-effort: after the retry budget the event is dropped with a log entry,
// never surfaced to the caller.
func (p *Publisher) publish(ctx context.Context, event Event) {
	if p.breaker.IsOpen() {
		p.logger.Debug("Event dropped while circuit breaker is open",
			zap.String("kind", event.Kind),
			zap.String("path", event.Path))
		return
	}

	event.Host = p.host
	event.CreatedAt = time.Now().Format(time.RFC3339)

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode event",
			zap.String("kind", event.Kind),
			zap.Error(err))
		return
	}

	if err := p.publishWithRetry(ctx, data); err != nil {
		p.breaker.RecordFailure()
		p.logger.Warn("Event dropped",
			zap.String("kind", event.Kind),
			zap.String("path", event.Path),
			zap.String("subject", p.config.Subject),
			zap.Error(err))
		return
	}

	p.breaker.RecordSuccess()
	p.logger.Debug("Event published",
		zap.String("kind", event.Kind),
		zap.String("path", event.Path),
		zap.String("subject", p.config.Subject))
}

// publishWithRetry attempts to publish with retry logic
func (p *Publisher) publishWithRetry(ctx context.Context, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Debug("Retrying event publish",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.config.MaxRetries+1),
				zap.Duration("retry_delay", p.config.RetryDelay))
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled during retry: %w", ctx.Err())
			case <-time.After(p.config.RetryDelay):
				// Continue with retry
			}
		}

		err := p.conn.Publish(p.config.Subject, data)
		if err == nil {
			return nil // Success
		}
		lastErr = err
	}

	return fmt.Errorf("publish failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}
