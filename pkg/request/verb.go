// Package request defines the transport-neutral contracts crossing the
// dispatch boundary: verbs, raw argument maps, parsed requests, and
// responses. Transports translate their own wire formats into these types
// before handing work to a processor.
package request

import (
	"strings"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

// Verb identifies the operation requested on a path. The set mirrors the
// HTTP methods, but verbs are transport-neutral: the messaging listener
// uses them the same way the HTTP gateway does.
type Verb string

const (
	Options Verb = "OPTIONS"
	Get     Verb = "GET"
	Head    Verb = "HEAD"
	Post    Verb = "POST"
	Put     Verb = "PUT"
	Delete  Verb = "DELETE"
	Trace   Verb = "TRACE"
	Connect Verb = "CONNECT"
)

var verbs = map[string]Verb{
	"OPTIONS": Options,
	"GET":     Get,
	"HEAD":    Head,
	"POST":    Post,
	"PUT":     Put,
	"DELETE":  Delete,
	"TRACE":   Trace,
	"CONNECT": Connect,
}

// ParseVerb maps a textual verb to its Verb value, ignoring case. Unknown
// values yield a validation error.
func ParseVerb(s string) (Verb, error) {
	v, ok := verbs[strings.ToUpper(s)]
	if !ok {
		return "", errors.NewValidation("unknown verb "+s, nil)
	}
	return v, nil
}

func (v Verb) String() string {
	return string(v)
}
