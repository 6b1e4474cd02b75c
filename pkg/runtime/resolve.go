package runtime

import (
	"strings"

	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

// Resolve finds the unit answering path+verb and the path segments left
// over for that unit's processor lookup.
//
// Segments are consumed front to back. The root unit (registered at the
// empty path) is consulted first with the full segment list; any unit
// hit along the way answers only if it actually owns a processor for the
// remaining segments and verb, otherwise consumption continues to deeper
// candidates. The shortest matching prefix that can answer wins, so a
// unit at "a" holding only "b/c" does not swallow "a/x/y" when "a/x" can
// serve it. Resolution never blocks on the lifecycle and may be called
// regardless of activation.
func (rt *Runtime) Resolve(path string, verb request.Verb) (unit.Unit, []string, bool) {
	segments := SplitPath(path)

	if root, ok := rt.registry.lookup(""); ok {
		if root.Processor(segments, verb) != nil {
			return root, segments, true
		}
	}

	for i := range segments {
		key := strings.Join(segments[:i+1], "/")
		u, ok := rt.registry.lookup(key)
		if !ok {
			continue
		}
		remaining := segments[i+1:]
		if u.Processor(remaining, verb) != nil {
			return u, remaining, true
		}
	}
	return nil, nil, false
}

// SplitPath breaks a request path into its segments, dropping empty
// segments from leading, trailing, or doubled separators.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	if len(segments) == 0 {
		return nil
	}
	return segments
}
