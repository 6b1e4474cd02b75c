package runtime

import (
	"sort"
	"sync"

	"github.com/wehubfusion/Hestia/pkg/unit"
)

// registry is the concurrent path->unit table. Insertion is strictly
// first-writer-wins: of two concurrent inserts for the same path exactly
// one succeeds and the loser never replaces the incumbent.
type registry struct {
	units sync.Map // string -> unit.Unit
}

// insert claims path for u. It reports false when the path is already
// taken.
func (r *registry) insert(path string, u unit.Unit) bool {
	_, loaded := r.units.LoadOrStore(path, u)
	return !loaded
}

// lookup returns the unit at path.
func (r *registry) lookup(path string) (unit.Unit, bool) {
	v, ok := r.units.Load(path)
	if !ok {
		return nil, false
	}
	return v.(unit.Unit), true
}

// take atomically removes and returns the unit at path. At most one caller
// receives any given unit.
func (r *registry) take(path string) (unit.Unit, bool) {
	v, ok := r.units.LoadAndDelete(path)
	if !ok {
		return nil, false
	}
	return v.(unit.Unit), true
}

// paths returns the registered paths in sorted order.
func (r *registry) paths() []string {
	var out []string
	r.units.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// size returns the number of registered units.
func (r *registry) size() int {
	n := 0
	r.units.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
