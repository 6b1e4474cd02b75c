package bundle

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/document"
	"github.com/wehubfusion/Hestia/pkg/runtime"
)

// DebugDeployer deploys bundles in debug/local mode: every location is a
// filesystem path relative to the manifest, and a bundle-wide shared
// configuration document is merged into each unit's configuration before
// customize runs.
type DebugDeployer struct {
	runtime    *runtime.Runtime
	scratchDir string
	version    string
	logger     *zap.Logger
}

// NewDebugDeployer creates a debug deployer. Merged configuration documents
// are persisted under scratchDir, which defaults to a directory below the
// system temp dir.
func NewDebugDeployer(rt *runtime.Runtime, scratchDir string, logger *zap.Logger) (*DebugDeployer, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "hestia-debug")
	}
	return &DebugDeployer{
		runtime:    rt,
		scratchDir: scratchDir,
		version:    DefaultRuntimeVersion,
		logger:     logger,
	}, nil
}

// WithRuntimeVersion overrides the version matched against manifest
// requires constraints.
func (d *DebugDeployer) WithRuntimeVersion(version string) *DebugDeployer {
	if version != "" {
		d.version = version
	}
	return d
}

// Deploy parses the manifest at manifestPath and deploys its units with the
// debug-mode configuration merge. Failing units are logged and skipped.
func (d *DebugDeployer) Deploy(manifestPath string) error {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return err
	}
	if err := manifest.CheckRequires(d.version); err != nil {
		return err
	}

	baseDir := filepath.Dir(manifestPath)

	var shared *document.Document
	if manifest.SharedConfig != "" {
		shared, err = document.Load(localPath(baseDir, manifest.SharedConfig))
		if err != nil {
			return fmt.Errorf("loading shared configuration: %w", err)
		}
	}

	d.logger.Info("Deploying bundle in debug mode",
		zap.String("manifest", manifestPath),
		zap.Int("units", len(manifest.Units)),
		zap.Bool("shared_config", shared != nil))

	var failures []error
	for _, desc := range manifest.Units {
		if err := d.deployUnit(baseDir, manifest, desc, shared); err != nil {
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

func (d *DebugDeployer) deployUnit(baseDir string, manifest *Manifest, desc Descriptor, shared *document.Document) error {
	var artifact []byte
	if desc.ArtifactLocation != "" {
		data, err := os.ReadFile(localPath(baseDir, desc.ArtifactLocation))
		if err != nil {
			return fmt.Errorf("reading artifact: %w", err)
		}
		artifact = data
	}

	u, err := New(desc.Implementation, artifact, d.logger)
	if err != nil {
		return err
	}

	doc, err := d.buildConfig(baseDir, desc, shared)
	if err != nil {
		return err
	}

	resources, err := resourceFiles(baseDir, desc.ResourcesDir, manifest.SharedResourcesDir)
	if err != nil {
		return err
	}

	return d.runtime.Add(u, doc, resources)
}

// buildConfig resolves the configuration document a unit's customize stage
// receives. Without a shared document the unit's own configuration (or
// nothing) is used directly. With one, the shared document's top-level
// children are merged additively into the unit's configuration, a missing
// local document is synthesized with the implementation identifier as root,
// and the merged result is persisted to the scratch dir and reloaded so
// customize reads the persisted form.
func (d *DebugDeployer) buildConfig(baseDir string, desc Descriptor, shared *document.Document) (*document.Document, error) {
	var doc *document.Document
	if desc.ConfigLocation != "" {
		loaded, err := document.Load(localPath(baseDir, desc.ConfigLocation))
		if err != nil {
			return nil, fmt.Errorf("loading configuration: %w", err)
		}
		doc = loaded
	}

	if shared == nil {
		return doc, nil
	}

	if doc == nil {
		doc = document.Synthesize(desc.Implementation)
	}
	doc.Merge(shared)

	scratch := filepath.Join(d.scratchDir, scratchName(desc.Implementation))
	if err := doc.Save(scratch); err != nil {
		return nil, fmt.Errorf("persisting merged configuration: %w", err)
	}
	merged, err := document.Load(scratch)
	if err != nil {
		return nil, fmt.Errorf("reloading merged configuration: %w", err)
	}

	d.logger.Debug("Merged shared configuration",
		zap.String("implementation", desc.Implementation),
		zap.String("scratch", scratch))
	return merged, nil
}

func scratchName(implementation string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(implementation)
	return name + ".config.json"
}

func localPath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
