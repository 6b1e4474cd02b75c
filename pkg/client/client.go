// Package client is the calling side of the NATS transport. A Client
// connects to the subject space hosts listen on and performs request-reply
// dispatches against whichever host answers.
//
// Example usage:
//
//	c := client.NewClient("nats://localhost:4222")
//	if err := c.Connect(ctx); err != nil {
//	    logger.Fatal("Failed to connect", zap.Error(err))
//	}
//	defer c.Close()
//
//	reply, err := c.Get(ctx, "orders/42", nil)
package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	natsclient "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/internal/nats"
	sdkerrors "github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/message"
	"github.com/wehubfusion/Hestia/pkg/request"
)

const (
	// DefaultPrefix is the subject namespace requests are published under.
	DefaultPrefix = "hestia"

	// DefaultTimeout bounds a request when the caller's context has no
	// deadline of its own.
	DefaultTimeout = 30 * time.Second
)

// Client performs request-reply dispatches against hosts listening on a
// NATS subject space.
type Client struct {
	conn    *natsclient.Conn
	config  *nats.ConnectionConfig
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a client for the given NATS URL with default connection
// configuration. The client must be connected using Connect() before use.
func NewClient(url string) *Client {
	return NewClientWithConfig(nats.DefaultConnectionConfig(url))
}

// NewClientWithConfig creates a client with full control over connection
// parameters such as reconnection settings, timeouts, and authentication.
func NewClientWithConfig(config *nats.ConnectionConfig) *Client {
	logger, _ := zap.NewProduction()
	return &Client{
		config:  config,
		prefix:  DefaultPrefix,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// WithPrefix overrides the subject namespace requests are published under.
// It must match the prefix the target hosts listen on.
func (c *Client) WithPrefix(prefix string) *Client {
	if prefix != "" {
		c.prefix = prefix
	}
	return c
}

// WithTimeout overrides the default request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.timeout = timeout
	}
	return c
}

// SetLogger sets a custom zap logger for the client
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Connect establishes the connection to the NATS server. This method must
// be called before dispatching requests.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil && c.conn.IsConnected() {
		return nil // Already connected
	}

	conn, err := nats.Connect(ctx, c.config, c.logger)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	c.conn = conn
	return nil
}

// Close gracefully closes the NATS connection, draining in-flight requests
// first. It should always be called when done with the client, typically
// using defer immediately after Connect().
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	if err := nats.Close(c.conn); err != nil {
		return fmt.Errorf("closing connection: %w", err)
	}
	c.conn = nil
	return nil
}

// IsConnected returns true if the client is currently connected.
func (c *Client) IsConnected() bool {
	return nats.IsConnected(c.conn)
}

// Connection returns the underlying NATS connection for advanced use cases.
//
// Warning: direct manipulation of the connection can interfere with the
// client's connection management.
func (c *Client) Connection() *natsclient.Conn {
	return c.conn
}

// Request dispatches path and verb with args to whichever host answers the
// subject space, and waits for its reply. String and byte-slice argument
// values are supported; anything else is rejected before publishing.
//
// When ctx carries no deadline the client's timeout applies. No listening
// host yields ErrNoResponse; an elapsed deadline yields ErrTimeout.
func (c *Client) Request(ctx context.Context, path string, verb request.Verb, args request.Args) (*message.Reply, error) {
	if !c.IsConnected() {
		return nil, sdkerrors.ErrNotConnected
	}

	msg := message.NewMessage(path, verb)
	for key, value := range args {
		switch v := value.(type) {
		case string:
			msg.WithArg(key, v)
		case []byte:
			msg.WithRawArg(key, v)
		default:
			return nil, sdkerrors.NewValidation(
				fmt.Sprintf("argument %q must be a string or byte slice", key), nil)
		}
	}

	data, err := msg.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	subject := message.SubjectForPath(c.prefix, path)
	c.logger.Debug("Dispatching request",
		zap.String("message_id", msg.ID),
		zap.String("subject", subject),
		zap.String("verb", string(msg.Verb)))

	natsReply, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		switch {
		case stderrors.Is(err, natsclient.ErrNoResponders):
			return nil, sdkerrors.ErrNoResponse
		case stderrors.Is(err, context.DeadlineExceeded):
			return nil, sdkerrors.ErrTimeout
		case stderrors.Is(err, natsclient.ErrConnectionClosed):
			return nil, sdkerrors.ErrNotConnected
		default:
			return nil, fmt.Errorf("request failed: %w", err)
		}
	}

	return message.ReplyFromBytes(natsReply.Data)
}

// Get dispatches a GET request.
func (c *Client) Get(ctx context.Context, path string, args request.Args) (*message.Reply, error) {
	return c.Request(ctx, path, request.Get, args)
}

// Post dispatches a POST request.
func (c *Client) Post(ctx context.Context, path string, args request.Args) (*message.Reply, error) {
	return c.Request(ctx, path, request.Post, args)
}

// Ping verifies connectivity by flushing the connection's buffer to the
// server. It can be used as a health check; the operation respects the
// context deadline.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return sdkerrors.ErrNotConnected
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- c.conn.FlushTimeout(c.config.Timeout)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("ping cancelled: %w", ctx.Err())
	case err := <-resultCh:
		if err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		return nil
	}
}

// Stats returns current connection statistics for monitoring.
func (c *Client) Stats() ConnectionStats {
	if c.conn == nil {
		return ConnectionStats{}
	}

	stats := c.conn.Stats()
	return ConnectionStats{
		InMsgs:     stats.InMsgs,
		OutMsgs:    stats.OutMsgs,
		InBytes:    stats.InBytes,
		OutBytes:   stats.OutBytes,
		Reconnects: stats.Reconnects,
	}
}

// ConnectionStats holds connection statistics for monitoring and debugging.
type ConnectionStats struct {
	InMsgs     uint64 // Number of messages received
	OutMsgs    uint64 // Number of messages sent
	InBytes    uint64 // Number of bytes received
	OutBytes   uint64 // Number of bytes sent
	Reconnects uint64 // Number of reconnections performed
}
