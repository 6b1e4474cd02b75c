package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/request"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage("orders/42", request.Get)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "orders/42", msg.Path)
	assert.Equal(t, request.Get, msg.Verb)
	assert.NotEmpty(t, msg.CreatedAt)
	assert.NotEmpty(t, msg.UpdatedAt)
}

func TestMessageRoundTrip(t *testing.T) {
	msg := NewMessage("orders", request.Post).
		WithID("req-7").
		WithArg("customer", "acme").
		WithRawArg("body", []byte(`{"total": 12}`)).
		WithMetadata("trace_id", "abc123")

	data, err := msg.ToBytes()
	require.NoError(t, err)

	decoded, err := FromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, "req-7", decoded.ID)
	assert.Equal(t, "orders", decoded.Path)
	assert.Equal(t, request.Post, decoded.Verb)
	assert.Equal(t, "acme", decoded.Args["customer"])
	assert.Equal(t, []byte(`{"total": 12}`), decoded.RawArgs["body"])
	assert.Equal(t, "abc123", decoded.Metadata["trace_id"])
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	_, err := FromBytes([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestValidateNormalizesVerb(t *testing.T) {
	msg := NewMessage("orders", "get")
	require.NoError(t, msg.Validate())
	assert.Equal(t, request.Get, msg.Verb)
}

func TestValidateRejectsBadEnvelope(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		msg := NewMessage("orders", request.Get)
		msg.ID = ""
		err := msg.Validate()
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("unknown verb", func(t *testing.T) {
		msg := NewMessage("orders", "FLUSH")
		err := msg.Validate()
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestToArgs(t *testing.T) {
	msg := NewMessage("orders", request.Get).
		WithArg("name", "ada").
		WithRawArg("body", []byte("raw"))

	args := msg.ToArgs()
	require.NoError(t, args.Validate())

	name, err := args.String("name")
	require.NoError(t, err)
	assert.Equal(t, "ada", name)

	body, err := args.Bytes("body")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), body)
}

func TestReplyRoundTrip(t *testing.T) {
	reply := NewReply(200, map[string]any{"total": 3}).WithID("req-7")

	data, err := reply.ToBytes()
	require.NoError(t, err)

	decoded, err := ReplyFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "req-7", decoded.ID)
	assert.Equal(t, 200, decoded.Status)
	assert.True(t, decoded.IsSuccess())
	assert.EqualValues(t, 3, decoded.Body["total"])
}

func TestErrorReply(t *testing.T) {
	reply := NewErrorReply(400, "validation", "name is required")

	assert.False(t, reply.IsSuccess())
	require.NotNil(t, reply.Error)
	assert.Equal(t, "validation", reply.Error.Code)
	assert.Equal(t, "name is required", reply.Error.Message)
}

func TestRedirectReply(t *testing.T) {
	reply := NewRedirectReply("https://elsewhere.example/orders")

	assert.Equal(t, 303, reply.Status)
	assert.Equal(t, "https://elsewhere.example/orders", reply.Redirect)
	assert.True(t, reply.IsSuccess())
}

func TestSubjectForPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "simple path", path: "orders", want: "hestia.requests.orders"},
		{name: "nested path", path: "orders/42/items", want: "hestia.requests.orders.42.items"},
		{name: "root path", path: "", want: "hestia.requests._"},
		{name: "surrounding slashes trimmed", path: "/orders/", want: "hestia.requests.orders"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubjectForPath("hestia", tt.path))
		})
	}
}

func TestPathForSubject(t *testing.T) {
	path, err := PathForSubject("hestia", "hestia.requests.orders.42")
	require.NoError(t, err)
	assert.Equal(t, "orders/42", path)

	path, err = PathForSubject("hestia", "hestia.requests._")
	require.NoError(t, err)
	assert.Equal(t, "", path)

	_, err = PathForSubject("hestia", "other.requests.orders")
	assert.Error(t, err)

	_, err = PathForSubject("hestia", "hestia.requests.")
	assert.Error(t, err)
}

func TestSubjectPathRoundTrip(t *testing.T) {
	for _, path := range []string{"", "orders", "orders/42/items"} {
		subject := SubjectForPath("hestia", path)
		got, err := PathForSubject("hestia", subject)
		require.NoError(t, err)
		assert.Equal(t, path, got)
	}
}
