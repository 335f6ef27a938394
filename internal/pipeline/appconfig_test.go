package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apprun/core/internal/config"
)

func TestResolveWorkerConfig_DefaultsWhenNoManifest(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{DefaultTTL: 5 * time.Minute, DefaultIdleTimeout: time.Minute}

	wc := resolveWorkerConfig(dir, cfg)

	assert.Equal(t, "index.js", wc.Entrypoint)
	assert.Equal(t, cfg.DefaultTTL, wc.TTL)
}

func TestResolveWorkerConfig_ManifestOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	manifest := `{
		"entrypoint": "server.js",
		"ttlSeconds": 120,
		"maxRequests": 50,
		"env": {"FOO": "bar"},
		"publicRoutes": {"all": ["/health"], "byMethod": {"GET": ["/status"]}}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "apprun.json"), []byte(manifest), 0o644))

	wc := resolveWorkerConfig(dir, config.Config{DefaultTTL: time.Hour})

	assert.Equal(t, "server.js", wc.Entrypoint)
	assert.Equal(t, 120*time.Second, wc.TTL)
	assert.Equal(t, 50, wc.MaxRequests)
	assert.Equal(t, "bar", wc.Env["FOO"])
	assert.Equal(t, []string{"/health"}, wc.PublicRoutes.All)
	assert.Equal(t, []string{"/status"}, wc.PublicRoutes.ByMethod["GET"])
}

func TestResolveWorkerConfig_MalformedManifestFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "apprun.json"), []byte("not json"), 0o644))

	wc := resolveWorkerConfig(dir, config.Config{DefaultTTL: time.Hour})

	assert.Equal(t, "index.js", wc.Entrypoint)
	assert.Equal(t, time.Hour, wc.TTL)
}
