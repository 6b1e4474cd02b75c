package request

import (
	"fmt"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

// Args carries the raw key/value pairs a transport extracted from the wire.
// Values are string or []byte; nothing else crosses the boundary. The typed
// getters enforce the contract and return validation errors, so a processor
// never sees an argument of an unexpected shape.
type Args map[string]any

// Has reports whether key is present.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// String returns the string value at key.
func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", errors.NewValidation(fmt.Sprintf("argument %q is required", key), nil)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewValidation(fmt.Sprintf("argument %q must be a string", key), nil)
	}
	return s, nil
}

// StringOr returns the string value at key, or fallback when the key is
// absent or not a string.
func (a Args) StringOr(key, fallback string) string {
	s, err := a.String(key)
	if err != nil {
		return fallback
	}
	return s
}

// Bytes returns the raw byte value at key. A string value is returned as
// its bytes.
func (a Args) Bytes(key string) ([]byte, error) {
	v, ok := a[key]
	if !ok {
		return nil, errors.NewValidation(fmt.Sprintf("argument %q is required", key), nil)
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, errors.NewValidation(fmt.Sprintf("argument %q must be bytes", key), nil)
	}
}

// Validate checks that every value is a string or []byte.
func (a Args) Validate() error {
	for k, v := range a {
		switch v.(type) {
		case string, []byte:
		default:
			return errors.NewValidation(fmt.Sprintf("argument %q has unsupported type %T", k, v), nil)
		}
	}
	return nil
}
