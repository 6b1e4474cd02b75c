// Package message defines the JSON envelope carried over NATS for request
// dispatch. A Message names a hosted unit path, a verb, and the request
// arguments; a Reply carries the dispatch result back on the reply subject.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/request"
)

// Message is a dispatch request envelope. String arguments travel in Args;
// binary arguments travel base64-encoded in RawArgs.
type Message struct {
	// ID uniquely identifies the request for correlation and logging.
	ID string `json:"id"`

	// Path addresses the hosted unit, segments joined with "/". The empty
	// path addresses the root unit.
	Path string `json:"path"`

	// Verb is the request verb, e.g. GET or POST.
	Verb request.Verb `json:"verb"`

	// Args holds string-valued request arguments.
	Args map[string]string `json:"args,omitempty"`

	// RawArgs holds byte-valued request arguments.
	RawArgs map[string][]byte `json:"rawArgs,omitempty"`

	// Metadata holds additional key-value pairs that are not request
	// arguments, such as trace identifiers.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is the timestamp when the message was created
	CreatedAt string `json:"createdAt"`

	// UpdatedAt is the timestamp when the message was last updated
	UpdatedAt string `json:"updatedAt"`

	// natsMsg holds the original NATS message (not serialized)
	natsMsg *nats.Msg
}

// NewMessage creates a message for path and verb with a generated id and
// timestamps.
func NewMessage(path string, verb request.Verb) *Message {
	now := time.Now().Format(time.RFC3339)
	return &Message{
		ID:        uuid.NewString(),
		Path:      path,
		Verb:      verb,
		Args:      make(map[string]string),
		Metadata:  make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithID overrides the generated request id.
func (m *Message) WithID(id string) *Message {
	m.ID = id
	m.UpdatedAt = time.Now().Format(time.RFC3339)
	return m
}

// WithArg adds a string argument to the message.
func (m *Message) WithArg(key, value string) *Message {
	if m.Args == nil {
		m.Args = make(map[string]string)
	}
	m.Args[key] = value
	m.UpdatedAt = time.Now().Format(time.RFC3339)
	return m
}

// WithRawArg adds a byte argument to the message.
func (m *Message) WithRawArg(key string, value []byte) *Message {
	if m.RawArgs == nil {
		m.RawArgs = make(map[string][]byte)
	}
	m.RawArgs[key] = value
	m.UpdatedAt = time.Now().Format(time.RFC3339)
	return m
}

// WithMetadata adds metadata to the message.
func (m *Message) WithMetadata(key, value string) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
	m.UpdatedAt = time.Now().Format(time.RFC3339)
	return m
}

// UpdateTimestamp updates the UpdatedAt timestamp to current time.
func (m *Message) UpdateTimestamp() *Message {
	m.UpdatedAt = time.Now().Format(time.RFC3339)
	return m
}

// Validate checks the envelope before dispatch and normalizes the verb.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.NewValidation("message id is required", nil)
	}
	verb, err := request.ParseVerb(string(m.Verb))
	if err != nil {
		return err
	}
	m.Verb = verb
	return nil
}

// ToArgs converts the envelope arguments into request args. A key present
// in both maps takes its byte value.
func (m *Message) ToArgs() request.Args {
	args := make(request.Args, len(m.Args)+len(m.RawArgs))
	for key, value := range m.Args {
		args[key] = value
	}
	for key, value := range m.RawArgs {
		args[key] = value
	}
	return args
}

// ToBytes serializes the message to JSON bytes.
func (m *Message) ToBytes() ([]byte, error) {
	return json.Marshal(m)
}

// FromBytes deserializes a message from JSON bytes.
func FromBytes(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.NewValidation("malformed message envelope", err)
	}
	return &msg, nil
}

// FromNATSMsg parses the envelope of a received NATS message and wraps it
// with its subjects so a handler can respond.
func FromNATSMsg(natsMsg *nats.Msg) (*NATSMsg, error) {
	msg, err := FromBytes(natsMsg.Data)
	if err != nil {
		return nil, err
	}
	msg.natsMsg = natsMsg
	return &NATSMsg{
		Message: msg,
		Subject: natsMsg.Subject,
		Reply:   natsMsg.Reply,
		natsMsg: natsMsg,
	}, nil
}

// NATSMsg is a received message together with the subject it arrived on and
// the reply subject for request-reply handling.
type NATSMsg struct {
	// Message is the parsed envelope
	*Message

	// Subject is the subject the message was received on
	Subject string

	// Reply is the reply subject (if applicable)
	Reply string

	natsMsg *nats.Msg
}

// Respond sends a reply back to the reply subject. Messages without a reply
// subject are fire-and-forget and responding is a no-op.
func (m *NATSMsg) Respond(reply *Reply) error {
	if m.natsMsg == nil || m.Reply == "" {
		return nil
	}

	data, err := reply.ToBytes()
	if err != nil {
		return err
	}
	return m.natsMsg.Respond(data)
}
