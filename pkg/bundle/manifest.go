// Package bundle deploys hosted units described by external manifests. A
// manifest enumerates unit descriptors (implementation identifier, artifact
// and configuration locations, resource directories) plus bundle-wide shared
// settings. Implementations are resolved through a factory registry rather
// than loaded reflectively.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

// Descriptor describes one deployable unit. Descriptors are parsed fresh
// from a manifest at deploy time and never mutated.
type Descriptor struct {
	Implementation   string `toml:"implementation" json:"implementation"`
	ArtifactLocation string `toml:"artifactLocation" json:"artifactLocation"`
	Local            bool   `toml:"local" json:"local"`
	ConfigLocation   string `toml:"configLocation" json:"configLocation"`
	ResourcesDir     string `toml:"resourcesDir" json:"resourcesDir"`
}

// Manifest is a parsed bundle manifest.
type Manifest struct {
	// Requires optionally constrains the runtime version this bundle may be
	// deployed on, as a semver range such as ">= 1.0.0".
	Requires           string       `toml:"requires" json:"requires"`
	SharedResourcesDir string       `toml:"sharedResourcesDir" json:"sharedResourcesDir"`
	SharedConfig       string       `toml:"sharedConfig" json:"sharedConfig"`
	Units              []Descriptor `toml:"units" json:"units"`
}

// ParseManifest parses TOML manifest data.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.NewConfiguration("parsing bundle manifest", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest reads and parses the manifest at path. TOML is the primary
// format; files with a .json extension are parsed as JSON.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("reading bundle manifest %s", path), err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, errors.NewConfiguration(fmt.Sprintf("parsing bundle manifest %s", path), err)
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		return &m, nil
	}

	return ParseManifest(data)
}

// Validate checks the manifest for structural problems.
func (m *Manifest) Validate() error {
	if len(m.Units) == 0 {
		return errors.NewConfiguration("bundle manifest lists no units", nil)
	}
	for i, d := range m.Units {
		if d.Implementation == "" {
			return errors.NewConfiguration(fmt.Sprintf("unit %d has no implementation identifier", i), nil)
		}
	}
	return nil
}

// CheckRequires verifies the bundle's version constraint against the running
// runtime version. Bundles without a constraint accept any version.
func (m *Manifest) CheckRequires(runtimeVersion string) error {
	if m.Requires == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(m.Requires)
	if err != nil {
		return errors.NewConfiguration(fmt.Sprintf("invalid requires constraint %q", m.Requires), err)
	}
	version, err := semver.NewVersion(runtimeVersion)
	if err != nil {
		return errors.NewConfiguration(fmt.Sprintf("invalid runtime version %q", runtimeVersion), err)
	}

	if !constraint.Check(version) {
		return errors.NewConfiguration(
			fmt.Sprintf("bundle requires runtime version %s, running %s", m.Requires, runtimeVersion), nil)
	}
	return nil
}
