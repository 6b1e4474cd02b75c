// Package units wires the built-in unit implementations into the bundle
// factory registry. Registration is explicit rather than an init side
// effect; a host calls RegisterBuiltins once at startup, before deploying
// bundles.
//
// The status unit is not registered here: it needs a view of the hosting
// runtime and is constructed directly by the host.
package units

import (
	"github.com/wehubfusion/Hestia/pkg/bundle"
	"github.com/wehubfusion/Hestia/pkg/units/greeting"
	"github.com/wehubfusion/Hestia/pkg/units/script"
	"github.com/wehubfusion/Hestia/pkg/units/transform"
)

// RegisterBuiltins registers the compiled-in unit factories.
func RegisterBuiltins() {
	bundle.Register(greeting.Implementation, greeting.Factory)
	bundle.Register(transform.Implementation, transform.Factory)
	bundle.Register(script.Implementation, script.Factory)
}
