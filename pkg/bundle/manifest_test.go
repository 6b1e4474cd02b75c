package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

const sampleManifest = `
requires = ">= 1.0.0"
sharedResourcesDir = "shared-res"
sharedConfig = "shared.json"

[[units]]
implementation = "greeting"
artifactLocation = "greeting.js"
local = true
configLocation = "greeting.json"
resourcesDir = "greeting-res"

[[units]]
implementation = "status"
local = true
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, ">= 1.0.0", m.Requires)
	assert.Equal(t, "shared-res", m.SharedResourcesDir)
	assert.Equal(t, "shared.json", m.SharedConfig)
	require.Len(t, m.Units, 2)

	first := m.Units[0]
	assert.Equal(t, "greeting", first.Implementation)
	assert.Equal(t, "greeting.js", first.ArtifactLocation)
	assert.True(t, first.Local)
	assert.Equal(t, "greeting.json", first.ConfigLocation)
	assert.Equal(t, "greeting-res", first.ResourcesDir)

	second := m.Units[1]
	assert.Equal(t, "status", second.Implementation)
	assert.Empty(t, second.ArtifactLocation)
}

func TestParseManifestRejectsBadTOML(t *testing.T) {
	_, err := ParseManifest([]byte("units = ["))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestParseManifestRejectsEmptyUnits(t *testing.T) {
	_, err := ParseManifest([]byte(`requires = ">= 1.0.0"`))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "no units")
}

func TestParseManifestRejectsMissingImplementation(t *testing.T) {
	_, err := ParseManifest([]byte("[[units]]\nlocal = true\n"))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "implementation")
}

func TestLoadManifestJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.json")
	data := `{"requires": ">= 1.0.0", "units": [{"implementation": "status", "local": true}]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, ">= 1.0.0", m.Requires)
	require.Len(t, m.Units, 1)
	assert.Equal(t, "status", m.Units[0].Implementation)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestCheckRequires(t *testing.T) {
	tests := []struct {
		name           string
		requires       string
		runtimeVersion string
		wantErr        bool
	}{
		{
			name:           "no constraint accepts anything",
			requires:       "",
			runtimeVersion: "0.0.1",
			wantErr:        false,
		},
		{
			name:           "satisfied range",
			requires:       ">= 1.0.0, < 2.0.0",
			runtimeVersion: "1.4.2",
			wantErr:        false,
		},
		{
			name:           "version too old",
			requires:       ">= 2.0.0",
			runtimeVersion: "1.0.0",
			wantErr:        true,
		},
		{
			name:           "invalid constraint",
			requires:       "not-a-range",
			runtimeVersion: "1.0.0",
			wantErr:        true,
		},
		{
			name:           "invalid runtime version",
			requires:       ">= 1.0.0",
			runtimeVersion: "trunk",
			wantErr:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manifest{Requires: tt.requires}
			err := m.CheckRequires(tt.runtimeVersion)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsConfiguration(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}
