package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// connectForEvents connects to a local NATS server, skipping the test when
// none is running.
func connectForEvents(t *testing.T) *nats.Conn {
	t.Helper()
	conn, err := nats.Connect(nats.DefaultURL, nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("NATS server not available: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func newTestPublisher(t *testing.T, conn *nats.Conn, subject string) *Publisher {
	t.Helper()
	p, err := NewPublisherWithConfig(conn, &Config{
		Subject:    subject,
		MaxRetries: 1,
		RetryDelay: 50 * time.Millisecond,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, err)
	return p
}

func TestNewPublisherRequiresConnection(t *testing.T) {
	_, err := NewPublisherWithConfig(nil, nil)
	assert.ErrorContains(t, err, "nats connection is required")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "hestia.events", config.Subject)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Second, config.RetryDelay)
}

func TestPublisherDeliversUnitDeployed(t *testing.T) {
	conn := connectForEvents(t)
	subject := fmt.Sprintf("hestia.events.test.%d", time.Now().UnixNano())

	sub, err := conn.SubscribeSync(subject)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p := newTestPublisher(t, conn, subject)
	p.UnitDeployed(context.Background(), "orders", "orders-service")

	raw, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(raw.Data, &event))
	assert.Equal(t, KindUnitDeployed, event.Kind)
	assert.Equal(t, "orders", event.Path)
	assert.Equal(t, "orders-service", event.Detail["implementation"])
	assert.NotEmpty(t, event.CreatedAt)
}

func TestPublisherDeliversRuntimeEvents(t *testing.T) {
	conn := connectForEvents(t)
	subject := fmt.Sprintf("hestia.events.test.%d", time.Now().UnixNano())

	sub, err := conn.SubscribeSync(subject)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p := newTestPublisher(t, conn, subject)
	p.RuntimeActivated(context.Background(), "1.0.0")
	p.RuntimeShutdown(context.Background(), 3)

	var kinds []string
	for i := 0; i < 2; i++ {
		raw, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		var event Event
		require.NoError(t, json.Unmarshal(raw.Data, &event))
		kinds = append(kinds, event.Kind)
	}
	assert.Equal(t, []string{KindRuntimeActivated, KindRuntimeShutdown}, kinds)
}

func TestPublisherDropsWhileBreakerOpen(t *testing.T) {
	conn := connectForEvents(t)
	subject := fmt.Sprintf("hestia.events.test.%d", time.Now().UnixNano())

	sub, err := conn.SubscribeSync(subject)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p := newTestPublisher(t, conn, subject)
	for i := 0; i < 5; i++ {
		p.breaker.RecordFailure()
	}
	require.True(t, p.breaker.IsOpen())

	p.UnitRemoved(context.Background(), "orders")

	_, err = sub.NextMsg(300 * time.Millisecond)
	assert.ErrorIs(t, err, nats.ErrTimeout, "no event should be published while open")
}
