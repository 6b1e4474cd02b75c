// Package document implements the configuration documents handed to units
// during customization: a single-rooted tree, parsed from JSON, with the
// strictly additive merge used by debug deployments.
package document

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

// Document is a named root holding a flat-keyed tree of children. On disk
// it is a JSON object with exactly one top-level key:
//
//	{"orders": {"endpoint": "https://...", "retries": 3}}
type Document struct {
	root     string
	children map[string]any
}

// Parse reads a document from its serialized form. Anything other than a
// single-rooted object is rejected with a configuration error.
func Parse(data []byte) (*Document, error) {
	var outer map[string]any
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, errors.NewConfiguration("document is not a JSON object", err)
	}
	if len(outer) != 1 {
		return nil, errors.NewConfiguration(fmt.Sprintf("document must have exactly one root, found %d", len(outer)), nil)
	}
	for root, v := range outer {
		children, ok := v.(map[string]any)
		if !ok {
			return nil, errors.NewConfiguration(fmt.Sprintf("root %q must hold an object", root), nil)
		}
		return &Document{root: root, children: children}, nil
	}
	return nil, errors.NewConfiguration("document is empty", nil)
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("reading document %s", path), err)
	}
	return Parse(data)
}

// Synthesize creates an empty document with the given root name. Debug
// deployments synthesize a root named after the unit implementation when no
// local configuration exists.
func Synthesize(root string) *Document {
	return &Document{root: root, children: map[string]any{}}
}

// Root returns the root name.
func (d *Document) Root() string {
	return d.root
}

// Keys returns the child keys in sorted order.
func (d *Document) Keys() []string {
	keys := make([]string, 0, len(d.children))
	for k := range d.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether the child key exists.
func (d *Document) Has(key string) bool {
	_, ok := d.children[key]
	return ok
}

// Set writes a child value, replacing any existing value.
func (d *Document) Set(key string, value any) {
	d.children[key] = value
}

// String returns the string child at key.
func (d *Document) String(key string) (string, error) {
	v, ok := d.children[key]
	if !ok {
		return "", errors.NewConfiguration(fmt.Sprintf("missing key %q", key), nil)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewConfiguration(fmt.Sprintf("key %q is not a string", key), nil)
	}
	return s, nil
}

// StringOr returns the string child at key, or fallback when absent or of
// another type.
func (d *Document) StringOr(key, fallback string) string {
	s, err := d.String(key)
	if err != nil {
		return fallback
	}
	return s
}

// Int returns the integer child at key. JSON numbers arrive as float64;
// non-integral values are rejected.
func (d *Document) Int(key string) (int, error) {
	v, ok := d.children[key]
	if !ok {
		return 0, errors.NewConfiguration(fmt.Sprintf("missing key %q", key), nil)
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errors.NewConfiguration(fmt.Sprintf("key %q is not a number", key), nil)
	}
	if f != math.Trunc(f) {
		return 0, errors.NewConfiguration(fmt.Sprintf("key %q is not an integer", key), nil)
	}
	return int(f), nil
}

// Bool returns the boolean child at key.
func (d *Document) Bool(key string) (bool, error) {
	v, ok := d.children[key]
	if !ok {
		return false, errors.NewConfiguration(fmt.Sprintf("missing key %q", key), nil)
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.NewConfiguration(fmt.Sprintf("key %q is not a boolean", key), nil)
	}
	return b, nil
}

// Child returns the nested object at key as a document rooted by that key.
func (d *Document) Child(key string) (*Document, error) {
	v, ok := d.children[key]
	if !ok {
		return nil, errors.NewConfiguration(fmt.Sprintf("missing key %q", key), nil)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.NewConfiguration(fmt.Sprintf("key %q is not an object", key), nil)
	}
	return &Document{root: key, children: m}, nil
}

// Merge copies the shared document's top-level children into this document.
// The merge is strictly additive: a key already present locally always
// wins and is never overwritten. Copied values are deep copies, so later
// mutation of either document leaves the other untouched.
func (d *Document) Merge(shared *Document) {
	if shared == nil {
		return
	}
	for k, v := range shared.children {
		if _, ok := d.children[k]; ok {
			continue
		}
		d.children[k] = deepCopy(v)
	}
}

// Bytes serializes the document to its on-disk form.
func (d *Document) Bytes() ([]byte, error) {
	data, err := json.MarshalIndent(map[string]any{d.root: d.children}, "", "  ")
	if err != nil {
		return nil, errors.NewConfiguration("serializing document", err)
	}
	return data, nil
}

// Save writes the document to path, creating parent directories as needed.
func (d *Document) Save(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewConfiguration(fmt.Sprintf("creating directory for %s", path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewConfiguration(fmt.Sprintf("writing document %s", path), err)
	}
	return nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
