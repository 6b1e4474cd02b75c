package bundle

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/unit"
)

// Factory constructs a unit from its fetched artifact. Implementations that
// are compiled into the host receive a nil artifact.
type Factory func(artifact []byte, logger *zap.Logger) (unit.Unit, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register binds an implementation identifier to a factory. Registering the
// same identifier again replaces the previous factory.
func Register(identifier string, factory Factory) {
	if identifier == "" || factory == nil {
		return
	}
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[identifier] = factory
}

// New builds a unit for the given implementation identifier.
func New(identifier string, artifact []byte, logger *zap.Logger) (unit.Unit, error) {
	factoriesMu.RLock()
	factory, ok := factories[identifier]
	factoriesMu.RUnlock()
	if !ok {
		return nil, errors.NewConfiguration(
			fmt.Sprintf("no factory registered for implementation %q", identifier), nil)
	}

	u, err := factory(artifact, logger)
	if err != nil {
		return nil, fmt.Errorf("building unit for implementation %q: %w", identifier, err)
	}
	if u == nil {
		return nil, fmt.Errorf("factory for implementation %q returned no unit", identifier)
	}
	return u, nil
}

// Registered returns the known implementation identifiers, sorted.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
