package request

import (
	"net/http"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

// Response is the outcome a processor hands back to the dispatching
// transport. Status follows HTTP status semantics even on non-HTTP
// transports; Body is the renderable payload.
type Response interface {
	Status() int
	Body() map[string]any
}

type response struct {
	status  int
	message string
	data    map[string]any
}

// NewResponse creates a success response carrying data. A nil data map is
// allowed and renders as a bare status body.
func NewResponse(data map[string]any) Response {
	return &response{status: http.StatusOK, data: data}
}

// NewErrorResponse creates a failure response. The success status is
// rejected: a failure must not masquerade as 200.
func NewErrorResponse(status int, message string) (Response, error) {
	if status == http.StatusOK {
		return nil, errors.NewValidation("error response cannot carry status 200", nil)
	}
	return &response{status: status, message: message}, nil
}

// NewValidationFailure creates a 400 response.
func NewValidationFailure(message string) Response {
	return &response{status: http.StatusBadRequest, message: message}
}

// NewNotFound creates a 404 response.
func NewNotFound(message string) Response {
	return &response{status: http.StatusNotFound, message: message}
}

// NewUnavailable creates a 503 response.
func NewUnavailable(message string) Response {
	return &response{status: http.StatusServiceUnavailable, message: message}
}

// NewInternalError creates a 500 response.
func NewInternalError(message string) Response {
	return &response{status: http.StatusInternalServerError, message: message}
}

func (r *response) Status() int {
	return r.status
}

// Body renders the response as a flat object. Every body carries
// http_status; failures add error, successes merge their data (the
// http_status key is reserved and cannot be shadowed by data).
func (r *response) Body() map[string]any {
	body := map[string]any{
		"http_status": http.StatusText(r.status),
	}
	if r.message != "" {
		body["error"] = r.message
		return body
	}
	for k, v := range r.data {
		if k == "http_status" {
			continue
		}
		body[k] = v
	}
	return body
}
