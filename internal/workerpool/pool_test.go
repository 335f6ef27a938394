package workerpool

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apprun/core/internal/metrics"
	"github.com/apprun/core/internal/workermsg"
)

func newTestPool(t *testing.T, maxSize int, spawn ProcessSpawner) *Pool {
	t.Helper()
	return NewPool(maxSize, spawn, metrics.NewPoolMetrics("test", nil), zerolog.Nop())
}

func TestResolveKeyFlatLayout(t *testing.T) {
	key, name, version, err := ResolveKey("/apps/myapp@2.1.0")
	require.NoError(t, err)
	assert.Equal(t, "myapp@2.1.0", key)
	assert.Equal(t, "myapp", name)
	assert.Equal(t, "2.1.0", version)
}

func TestResolveKeyFlatLayoutDefaultsToLatest(t *testing.T) {
	key, _, version, err := ResolveKey("/apps/myapp")
	require.NoError(t, err)
	assert.Equal(t, "myapp@latest", key)
	assert.Equal(t, "latest", version)
}

func TestResolveKeyNestedLayout(t *testing.T) {
	key, name, version, err := ResolveKey("/apps/myapp/1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "myapp@1.2.3", key)
	assert.Equal(t, "myapp", name)
	assert.Equal(t, "1.2.3", version)
}

func TestResolveKeyManifestOverridesFolderVersion(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "myapp@1.0.0")
	require.NoError(t, os.Mkdir(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "package.json"), []byte(`{"version":"9.9.9"}`), 0o644))

	key, _, version, err := ResolveKey(appDir)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", version)
	assert.Equal(t, "myapp@9.9.9", key)
}

func TestPoolFetchCachesPersistentWorker(t *testing.T) {
	spawnCount := 0
	spawn := func(appDir, entrypoint string, env map[string]string) (WorkerProcess, error) {
		spawnCount++
		return echoSpawner()(appDir, entrypoint, env)
	}
	pool := newTestPool(t, 10, spawn)
	cfg := testConfig()

	_, err := pool.Fetch(context.Background(), "/apps/demo@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "")
	require.NoError(t, err)
	_, err = pool.Fetch(context.Background(), "/apps/demo@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "")
	require.NoError(t, err)

	assert.Equal(t, 1, spawnCount)
	snap := pool.GetMetrics()
	assert.Equal(t, uint64(1), snap.Misses)
	assert.Equal(t, uint64(1), snap.Hits)
}

func TestPoolFetchEphemeralNeverCaches(t *testing.T) {
	spawnCount := 0
	spawn := func(appDir, entrypoint string, env map[string]string) (WorkerProcess, error) {
		spawnCount++
		return echoSpawner()(appDir, entrypoint, env)
	}
	pool := newTestPool(t, 10, spawn)
	cfg := testConfig()
	cfg.TTL = 0

	_, err := pool.Fetch(context.Background(), "/apps/demo@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "document")
	require.NoError(t, err)
	_, err = pool.Fetch(context.Background(), "/apps/demo@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "document")
	require.NoError(t, err)

	assert.Equal(t, 2, spawnCount)
	assert.Empty(t, pool.entries)
}

func TestPoolFetchDetectsCollision(t *testing.T) {
	pool := newTestPool(t, 10, echoSpawner())
	cfg := testConfig()

	_, err := pool.Fetch(context.Background(), "/apps/a/demo@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "")
	require.NoError(t, err)

	_, err = pool.Fetch(context.Background(), "/apps/b/demo@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_COLLISION")
}

func TestPoolEvictsLeastRecentlyUsedOnOverflow(t *testing.T) {
	pool := newTestPool(t, 1, echoSpawner())
	cfg := testConfig()

	_, err := pool.Fetch(context.Background(), "/apps/a@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "")
	require.NoError(t, err)
	_, err = pool.Fetch(context.Background(), "/apps/b@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "")
	require.NoError(t, err)

	pool.mu.Lock()
	_, aStillPresent := pool.entries["a@1.0.0"]
	_, bPresent := pool.entries["b@1.0.0"]
	pool.mu.Unlock()

	assert.False(t, aStillPresent)
	assert.True(t, bPresent)

	snap := pool.GetMetrics()
	assert.Equal(t, uint64(1), snap.Evictions)
}

func TestPoolGetWorkerStatsMergesHistoricalAndLive(t *testing.T) {
	pool := newTestPool(t, 10, echoSpawner())
	cfg := testConfig()

	_, err := pool.Fetch(context.Background(), "/apps/demo@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "")
	require.NoError(t, err)

	stats := pool.GetWorkerStats()
	require.Contains(t, stats, "demo@1.0.0")
	assert.Equal(t, StatusActive, stats["demo@1.0.0"].Status)
	assert.Equal(t, int64(1), stats["demo@1.0.0"].RequestCount)
}

func TestPoolShutdownRetiresAllWorkers(t *testing.T) {
	pool := newTestPool(t, 10, echoSpawner())
	cfg := testConfig()

	_, err := pool.Fetch(context.Background(), "/apps/demo@1.0.0", cfg, workermsg.Request{Method: "GET", URL: "/"}, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	assert.Empty(t, pool.entries)
	stats := pool.GetWorkerStats()
	assert.Equal(t, StatusOffline, stats["demo@1.0.0"].Status)
}
