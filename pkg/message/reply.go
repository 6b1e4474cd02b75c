package message

import (
	"encoding/json"
	"time"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

// ReplyError carries the error detail of a failed dispatch.
type ReplyError struct {
	// Code is the error code, e.g. "validation" or "not_found"
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`
}

// Reply is the dispatch result envelope sent on the reply subject.
type Reply struct {
	// ID echoes the request id for correlation.
	ID string `json:"id,omitempty"`

	// Status is the HTTP-style status of the dispatch.
	Status int `json:"status"`

	// Body holds the response payload for successful dispatches.
	Body map[string]any `json:"body,omitempty"`

	// Redirect holds the redirect target when the processor redirected.
	Redirect string `json:"redirect,omitempty"`

	// Error is set when the dispatch failed.
	Error *ReplyError `json:"error,omitempty"`

	// CreatedAt is the timestamp when the reply was created
	CreatedAt string `json:"createdAt"`
}

// NewReply creates a successful reply with the given status and body.
func NewReply(status int, body map[string]any) *Reply {
	return &Reply{
		Status:    status,
		Body:      body,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
}

// NewErrorReply creates a failed reply carrying an error code and message.
func NewErrorReply(status int, code, message string) *Reply {
	return &Reply{
		Status:    status,
		Error:     &ReplyError{Code: code, Message: message},
		CreatedAt: time.Now().Format(time.RFC3339),
	}
}

// NewRedirectReply creates a reply instructing the caller to follow target.
func NewRedirectReply(target string) *Reply {
	return &Reply{
		Status:    303,
		Redirect:  target,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
}

// WithID sets the correlation id.
func (r *Reply) WithID(id string) *Reply {
	r.ID = id
	return r
}

// IsSuccess reports whether the dispatch succeeded.
func (r *Reply) IsSuccess() bool {
	return r.Status < 400 && r.Error == nil
}

// ToBytes serializes the reply to JSON bytes.
func (r *Reply) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}

// ReplyFromBytes deserializes a reply from JSON bytes.
func ReplyFromBytes(data []byte) (*Reply, error) {
	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, errors.NewValidation("malformed reply envelope", err)
	}
	return &reply, nil
}
