package tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/bundle"
	"github.com/wehubfusion/Hestia/pkg/execution"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/runtime"
	"github.com/wehubfusion/Hestia/pkg/storage"
	"github.com/wehubfusion/Hestia/pkg/units"
)

// newHost assembles the hosting stack the way a launcher would: a pooled
// execution service under an activated runtime, with the built-in unit
// factories registered.
func newHost(t *testing.T) *runtime.Runtime {
	t.Helper()
	units.RegisterBuiltins()
	svc, err := execution.NewPooled(execution.Config{Workers: 2, QueueSize: 16}, zap.NewNop())
	require.NoError(t, err)
	rt, err := runtime.NewRuntime(svc, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, rt.Activate())
	t.Cleanup(rt.Shutdown)
	return rt
}

// newDeployer wires a deployer over a local-only storage resolver rooted at
// baseDir.
func newDeployer(t *testing.T, rt *runtime.Runtime, baseDir string) *bundle.Deployer {
	t.Helper()
	store, err := storage.NewResolver(baseDir, nil, zap.NewNop())
	require.NoError(t, err)
	d, err := bundle.NewDeployer(rt, store, "1.0.0", zap.NewNop())
	require.NoError(t, err)
	return d
}

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func dispatch(t *testing.T, rt *runtime.Runtime, path string, verb request.Verb, args request.Args) (runtime.Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rt.Dispatch(ctx, uuid.NewString(), path, verb, args)
}

// dispatchOK dispatches and requires a processed outcome, returning the
// response body.
func dispatchOK(t *testing.T, rt *runtime.Runtime, path string, verb request.Verb, args request.Args) map[string]any {
	t.Helper()
	outcome, err := dispatch(t, rt, path, verb, args)
	require.NoError(t, err)
	require.Equal(t, runtime.OutcomeProcessed, outcome.Kind, "dispatching %s %s", verb, path)
	return outcome.Response.Body()
}
