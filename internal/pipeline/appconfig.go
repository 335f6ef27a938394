package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/apprun/core/internal/config"
	"github.com/apprun/core/internal/workerpool"
)

// appManifest is the optional "apprun.json" sibling of an application's
// package.json, carrying the per-app WorkerConfig overrides spec.md §4.1
// leaves to "the caller" to resolve. Any field left out falls back to the
// process-wide config.Config default (the entrypoint to "index.js"); a
// field present with value 0 overrides the default with 0.
type appManifest struct {
	Entrypoint            string            `json:"entrypoint"`
	TTLSeconds            *int              `json:"ttlSeconds"`
	IdleTimeoutSeconds    *int              `json:"idleTimeoutSeconds"`
	RequestTimeoutSeconds *int              `json:"requestTimeoutSeconds"`
	MaxRequests           *int              `json:"maxRequests"`
	MaxBodyBytes          *int64            `json:"maxBodyBytes"`
	Env                   map[string]string `json:"env"`
	PublicRoutes          *struct {
		All      []string            `json:"all"`
		ByMethod map[string][]string `json:"byMethod"`
	} `json:"publicRoutes"`
}

// resolveWorkerConfig loads appDir's apprun.json, if present, layering it
// over cfg's global defaults to produce the workerpool.Config Fetch needs.
func resolveWorkerConfig(appDir string, cfg config.Config) workerpool.Config {
	wc := workerpool.Config{
		Entrypoint:     "index.js",
		TTL:            cfg.DefaultTTL,
		IdleTimeout:    cfg.DefaultIdleTimeout,
		RequestTimeout: cfg.DefaultRequestTimeout,
		MaxRequests:    cfg.DefaultMaxRequests,
		MaxBodyBytes:   cfg.DefaultMaxBodyBytes,
	}

	data, err := os.ReadFile(filepath.Join(appDir, "apprun.json"))
	if err != nil {
		return wc
	}
	var m appManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return wc
	}

	if m.Entrypoint != "" {
		wc.Entrypoint = m.Entrypoint
	}
	if m.TTLSeconds != nil {
		wc.TTL = time.Duration(*m.TTLSeconds) * time.Second
	}
	if m.IdleTimeoutSeconds != nil {
		wc.IdleTimeout = time.Duration(*m.IdleTimeoutSeconds) * time.Second
	}
	if m.RequestTimeoutSeconds != nil {
		wc.RequestTimeout = time.Duration(*m.RequestTimeoutSeconds) * time.Second
	}
	if m.MaxRequests != nil {
		wc.MaxRequests = *m.MaxRequests
	}
	if m.MaxBodyBytes != nil {
		wc.MaxBodyBytes = *m.MaxBodyBytes
	}
	if m.Env != nil {
		wc.Env = m.Env
	}
	if m.PublicRoutes != nil {
		wc.PublicRoutes = workerpool.PublicRoutes{All: m.PublicRoutes.All, ByMethod: m.PublicRoutes.ByMethod}
	}
	return wc
}
