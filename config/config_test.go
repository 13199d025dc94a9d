package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomview/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultAPIBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultCacheBytes, cfg.Engine.CacheBytes)
	assert.GreaterOrEqual(t, cfg.Engine.DecodeWorkers, 1)
	assert.Equal(t, types.Layout1x1, cfg.Viewer.Layout)
	assert.Equal(t, "WindowLevel", cfg.Viewer.DefaultTool)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIBaseURL, cfg.API.BaseURL)
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	path := filepath.Join(t.TempDir(), "dicomview.yaml")
	content := `
api:
  baseURL: http://pacs.example.org/api/v1
  timeout: 5s
engine:
  decodeWorkers: 2
viewer:
  layout:
    rows: 2
    cols: 2
  instanceOrder: position
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://pacs.example.org/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 2, cfg.Engine.DecodeWorkers)
	assert.Equal(t, types.Layout2x2, cfg.Viewer.Layout)
	assert.Equal(t, OrderPosition, cfg.Viewer.InstanceOrder)
	// Untouched sections keep their defaults
	assert.Equal(t, DefaultCacheBytes, cfg.Engine.CacheBytes)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://viewer.example.org/api/v1")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "https://viewer.example.org/api/v1", cfg.API.BaseURL)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	tests := []struct {
		name    string
		content string
	}{
		{"BadURL", "api:\n  baseURL: not a url\n"},
		{"ZeroWorkers", "engine:\n  decodeWorkers: 0\n"},
		{"BadLayout", "viewer:\n  layout:\n    rows: 9\n    cols: 1\n"},
		{"BadOrder", "viewer:\n  instanceOrder: random\n"},
		{"BadLogLevel", "log:\n  level: loud\n"},
		{"Malformed", "api: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dicomview.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	path := filepath.Join(t.TempDir(), "nested", "dicomview.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().API, cfg.API)
	assert.Equal(t, DefaultConfig().Viewer, cfg.Viewer)
}

func TestLayoutBoundsMatchGrid(t *testing.T) {
	tests := []struct {
		layout types.Layout
		valid  bool
	}{
		{types.Layout1x1, true},
		{types.Layout{Rows: 3, Cols: 3}, true},
		{types.Layout{Rows: types.MaxLayoutDim, Cols: types.MaxLayoutDim}, true},
		{types.Layout{Rows: types.MaxLayoutDim + 1, Cols: 1}, false},
		{types.Layout{Rows: 0, Cols: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.layout.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Viewer.Layout = tt.layout
			assert.Equal(t, tt.valid, tt.layout.Valid())
			if tt.valid {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
