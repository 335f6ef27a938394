// Package kvplugin is the built-in key-value store plugin of
// SPEC_FULL.md §5.3: an in-memory store with optional Redis backing,
// exposed to other plugins via registerService("kv", ...) and to HTTP
// clients via a small REST surface.
package kvplugin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/plugin"
)

func init() {
	plugin.Register("kv", func() plugin.Handler { return &Plugin{} })
}

// ErrNotFound is returned by Store.Get when the key has no value, or has
// expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the capability the kv plugin publishes under the "kv" service
// name, per SPEC_FULL.md §5.3. Other plugins fetch it via
// ctx.GetService("kv") and type-assert to Store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Plugin wires a Store (memoryStore or redisStore, chosen by OnInit) and
// exposes it both as a service and as a small HTTP API.
type Plugin struct {
	base  string
	store Store
}

// OnInit builds the store. With a "redisAddr" option set, it backs onto
// Redis (go-redis/v9); otherwise it falls back to an in-memory store
// scoped to this process.
func (p *Plugin) OnInit(ctx *plugin.Context) error {
	p.base = "/kv"
	if b, ok := ctx.Options["base"].(string); ok && b != "" {
		p.base = b
	}

	if addr, ok := ctx.Options["redisAddr"].(string); ok && addr != "" {
		db, _ := ctx.Options["redisDB"].(int)
		password, _ := ctx.Options["redisPassword"].(string)
		client := redis.NewClient(&redis.Options{Addr: addr, DB: db, Password: password})
		p.store = &redisStore{client: client}
	} else {
		p.store = newMemoryStore()
	}
	return nil
}

// Provides implements plugin.ProvidesHook, publishing the Store under "kv"
// so other plugins (and worker-facing loopback handlers) can share it.
func (p *Plugin) Provides(ctx *plugin.Context) (map[string]any, error) {
	return map[string]any{"kv": p.store}, nil
}

// Routes implements plugin.RoutesProvider: GET/PUT/DELETE over /kv/{key}.
func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: p.base + "/*key", Handler: p.handleGet},
		{Method: http.MethodPut, Path: p.base + "/*key", Handler: p.handleSet},
		{Method: http.MethodDelete, Path: p.base + "/*key", Handler: p.handleDelete},
	}
}

func (p *Plugin) handleGet(w http.ResponseWriter, r *http.Request) {
	key := keyOf(r, p.base)
	val, err := p.store.Get(r.Context(), key)
	if errors.Is(err, ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, apperrors.NotFound("key"))
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.ErrCodeInternalServer, "kv get failed", err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(val)
}

type setRequestTTL struct {
	TTLSeconds int `json:"ttlSeconds"`
}

func (p *Plugin) handleSet(w http.ResponseWriter, r *http.Request) {
	key := keyOf(r, p.base)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, apperrors.BadRequest("failed to read request body"))
		return
	}

	var ttl time.Duration
	if q := r.URL.Query().Get("ttlSeconds"); q != "" {
		var opts setRequestTTL
		if err := json.Unmarshal([]byte(`{"ttlSeconds":`+q+`}`), &opts); err == nil {
			ttl = time.Duration(opts.TTLSeconds) * time.Second
		}
	}

	if err := p.store.Set(r.Context(), key, body, ttl); err != nil {
		writeJSONError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.ErrCodeInternalServer, "kv set failed", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Plugin) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := keyOf(r, p.base)
	if err := p.store.Delete(r.Context(), key); err != nil {
		writeJSONError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.ErrCodeInternalServer, "kv delete failed", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func keyOf(r *http.Request, base string) string {
	path := r.URL.Path
	if len(path) > len(base)+1 {
		return path[len(base)+1:]
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, appErr *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(appErr.ToResponse())
}
