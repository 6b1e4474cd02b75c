package bundle

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/runtime"
	"github.com/wehubfusion/Hestia/pkg/storage"
)

// DefaultRuntimeVersion is assumed when no version is configured.
const DefaultRuntimeVersion = "1.0.0"

// Deployer loads bundle manifests and registers their units with the
// runtime. Artifacts and configuration documents are fetched through the
// storage resolver, so a manifest may mix local and remote locations.
type Deployer struct {
	runtime *runtime.Runtime
	store   *storage.Resolver
	version string
	logger  *zap.Logger
}

// NewDeployer creates a deployer. runtimeVersion is matched against each
// manifest's requires constraint and defaults to DefaultRuntimeVersion.
func NewDeployer(rt *runtime.Runtime, store *storage.Resolver, runtimeVersion string, logger *zap.Logger) (*Deployer, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage resolver is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if runtimeVersion == "" {
		runtimeVersion = DefaultRuntimeVersion
	}
	return &Deployer{
		runtime: rt,
		store:   store,
		version: runtimeVersion,
		logger:  logger,
	}, nil
}

// Deploy parses the manifest at manifestPath and deploys every unit it
// lists. A failing unit is logged and skipped so the remaining units still
// deploy; the per-unit failures are joined into the returned error.
func (d *Deployer) Deploy(ctx context.Context, manifestPath string) error {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	if err := manifest.CheckRequires(d.version); err != nil {
		return err
	}

	baseDir := filepath.Dir(manifestPath)
	d.logger.Info("Deploying bundle",
		zap.String("manifest", manifestPath),
		zap.Int("units", len(manifest.Units)))

	var failures []error
	for _, desc := range manifest.Units {
		if err := d.deployUnit(ctx, baseDir, manifest, desc); err != nil {
			d.logger.Error("Unit deployment failed",
				zap.String("implementation", desc.Implementation),
				zap.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", desc.Implementation, err))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d units failed to deploy: %w",
			len(failures), len(manifest.Units), stderrors.Join(failures...))
	}
	return nil
}

func (d *Deployer) deployUnit(ctx context.Context, baseDir string, manifest *Manifest, desc Descriptor) error {
	var artifact []byte
	if desc.ArtifactLocation != "" {
		data, err := d.store.Fetch(ctx, fetchLocation(baseDir, desc.ArtifactLocation, desc.Local), desc.Local)
		if err != nil {
			return fmt.Errorf("fetching artifact: %w", err)
		}
		artifact = data
	}

	u, err := New(desc.Implementation, artifact, d.logger)
	if err != nil {
		return err
	}

	var doc *document.Document
	if desc.ConfigLocation != "" {
		data, err := d.store.Fetch(ctx, fetchLocation(baseDir, desc.ConfigLocation, desc.Local), desc.Local)
		if err != nil {
			return fmt.Errorf("fetching configuration: %w", err)
		}
		doc, err = document.Parse(data)
		if err != nil {
			return err
		}
	}

	resources, err := resourceFiles(baseDir, desc.ResourcesDir, manifest.SharedResourcesDir)
	if err != nil {
		return err
	}

	return d.runtime.Add(u, doc, resources)
}

// fetchLocation anchors relative local paths at the manifest's directory so
// a bundle is self-contained wherever it is unpacked. Remote locations pass
// through untouched.
func fetchLocation(baseDir, loc string, local bool) string {
	if !local {
		return loc
	}
	return localPath(baseDir, loc)
}

// resourceFiles lists the files of the unit's resource directory and the
// bundle's shared resource directory. When neither directory is configured
// it returns nil so units can tell "nothing configured" from "configured
// as empty".
func resourceFiles(baseDir, unitDir, sharedDir string) ([]string, error) {
	if unitDir == "" && sharedDir == "" {
		return nil, nil
	}

	files := make([]string, 0)
	for _, dir := range []string{unitDir, sharedDir} {
		if dir == "" {
			continue
		}
		full := localPath(baseDir, dir)
		entries, err := os.ReadDir(full)
		if err != nil {
			return nil, fmt.Errorf("listing resources %s: %w", full, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			files = append(files, filepath.Join(full, entry.Name()))
		}
	}
	return files, nil
}
