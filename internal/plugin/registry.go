package plugin

import (
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/workermsg"
)

// loadedEntry pairs a plugin's Handler with its context and source directory.
type loadedEntry struct {
	name    string
	handler Handler
	ctx     *Context
	dir     string
	base    string
}

// Registry is the Plugin Registry of spec.md §4.3: an append-only, ordered
// sequence of loaded plugins plus a cross-plugin service map. Registration
// order is preserved for onRequest/onServerStart/onWorkerSpawn fan-out and
// reversed for onShutdown, per the table in spec.md §4.3.
//
// Grounded on the pluginsMux-protected map in
// streamspace-dev-streamspace/api/internal/plugins/runtime.go's Runtime,
// generalized from a name-keyed map to an ordered sequence since this
// spec's hook fan-out is order-sensitive (short-circuiting, reverse
// shutdown) in a way the teacher's fire-and-forget event bus is not.
type Registry struct {
	mu       sync.RWMutex
	order    []*loadedEntry
	byName   map[string]*loadedEntry
	services map[string]any
	log      zerolog.Logger

	Scheduler *cron.Cron
	Events    *EventBus
}

// NewRegistry constructs an empty Registry with its own cron scheduler and
// event bus, shared by every plugin loaded into it.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		byName:    make(map[string]*loadedEntry),
		services:  make(map[string]any),
		log:       log,
		Scheduler: cron.New(),
		Events:    NewEventBus(log),
	}
}

// Register appends a plugin to the registry. Fails if the name is already
// present (spec.md §4.3 table).
func (r *Registry) Register(name string, handler Handler, ctx *Context, dir string) error {
	return r.register(name, handler, ctx, dir, "")
}

// RegisterWithBase is Register plus the plugin's manifest base path, which
// PluginForPath matches request paths against via ResolvePluginApp.
func (r *Registry) RegisterWithBase(name string, handler Handler, ctx *Context, dir, base string) error {
	return r.register(name, handler, ctx, dir, base)
}

func (r *Registry) register(name string, handler Handler, ctx *Context, dir, base string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return apperrors.PluginDuplicateName(name)
	}
	e := &loadedEntry{name: name, handler: handler, ctx: ctx, dir: dir, base: base}
	r.byName[name] = e
	r.order = append(r.order, e)
	return nil
}

// snapshot returns the current ordered list under the read lock, per
// spec.md §5's "iterate a snapshot of the ordered list" requirement.
func (r *Registry) snapshot() []*loadedEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*loadedEntry, len(r.order))
	copy(out, r.order)
	return out
}

// RunOnRequest iterates registration order; a hook returning a response
// short-circuits later hooks. A hook-thrown error is logged and the next
// hook runs with the unmodified request.
func (r *Registry) RunOnRequest(req *workermsg.Request) (*workermsg.Response, error) {
	for _, e := range r.snapshot() {
		hook, ok := e.handler.(RequestHook)
		if !ok {
			continue
		}
		res, err := hook.OnRequest(e.ctx, req)
		if err != nil {
			r.log.Error().Err(err).Str("plugin", e.name).Msg("onRequest hook failed")
			continue
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

// RunOnRequestForAuth mirrors RunOnRequest but propagates the first hook
// error immediately instead of logging and continuing, per spec.md
// §4.3.1's deny-by-default contract for the auth-wrap path.
func (r *Registry) RunOnRequestForAuth(req *workermsg.Request) (*workermsg.Response, error) {
	for _, e := range r.snapshot() {
		hook, ok := e.handler.(RequestHook)
		if !ok {
			continue
		}
		res, err := hook.OnRequest(e.ctx, req)
		if err != nil {
			return nil, fmt.Errorf("plugin %q onRequest: %w", e.name, err)
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, nil
}

// RunOnResponse sequentially composes onResponse; a thrown error propagates.
func (r *Registry) RunOnResponse(res *workermsg.Response) error {
	for _, e := range r.snapshot() {
		hook, ok := e.handler.(ResponseHook)
		if !ok {
			continue
		}
		if err := hook.OnResponse(e.ctx, res); err != nil {
			return fmt.Errorf("plugin %q onResponse: %w", e.name, err)
		}
	}
	return nil
}

// RunOnServerStart runs in forward order; errors are caught and logged.
func (r *Registry) RunOnServerStart() {
	for _, e := range r.snapshot() {
		hook, ok := e.handler.(ServerStartHook)
		if !ok {
			continue
		}
		if err := hook.OnServerStart(e.ctx); err != nil {
			r.log.Error().Err(err).Str("plugin", e.name).Msg("onServerStart hook failed")
		}
	}
}

// RunOnShutdown runs in reverse registration order; errors are caught and
// logged so shutdown always completes.
func (r *Registry) RunOnShutdown() {
	entries := r.snapshot()
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		hook, ok := e.handler.(ShutdownHook)
		if !ok {
			continue
		}
		if err := hook.OnShutdown(e.ctx); err != nil {
			r.log.Error().Err(err).Str("plugin", e.name).Msg("onShutdown hook failed")
		}
	}
}

// Shutdown stops the shared cron scheduler and runs onShutdown hooks in
// reverse registration order.
func (r *Registry) Shutdown() {
	r.Scheduler.Stop()
	r.RunOnShutdown()
}

// RunOnWorkerSpawn runs in forward order; errors are caught and logged.
func (r *Registry) RunOnWorkerSpawn(workerID string) {
	for _, e := range r.snapshot() {
		hook, ok := e.handler.(WorkerSpawnHook)
		if !ok {
			continue
		}
		if err := hook.OnWorkerSpawn(e.ctx, workerID); err != nil {
			r.log.Error().Err(err).Str("plugin", e.name).Msg("onWorkerSpawn hook failed")
		}
	}
}

// RunOnWorkerTerminate runs in forward order; errors are caught and logged.
func (r *Registry) RunOnWorkerTerminate(workerID string) {
	for _, e := range r.snapshot() {
		hook, ok := e.handler.(WorkerTerminateHook)
		if !ok {
			continue
		}
		if err := hook.OnWorkerTerminate(e.ctx, workerID); err != nil {
			r.log.Error().Err(err).Str("plugin", e.name).Msg("onWorkerTerminate hook failed")
		}
	}
}

// ResolvePluginApp reports whether pathname falls under base (exact match
// or pathname.startsWith(base+"/")), per spec.md §4.3's plugin-app routing
// rule.
func (r *Registry) ResolvePluginApp(pathname, base string) bool {
	if base == "" {
		return false
	}
	return pathname == base || strings.HasPrefix(pathname, base+"/")
}

// PluginForPath returns the first registered plugin (in registration
// order) whose manifest base claims pathname, per ResolvePluginApp.
func (r *Registry) PluginForPath(pathname string) (Handler, bool) {
	for _, e := range r.snapshot() {
		if e.base != "" && r.ResolvePluginApp(pathname, e.base) {
			return e.handler, true
		}
	}
	return nil, false
}

// Routes collects every plugin's static routes, each auth-wrapped per
// spec.md §4.3.1.
func (r *Registry) Routes() []Route {
	var out []Route
	for _, e := range r.snapshot() {
		provider, ok := e.handler.(RoutesProvider)
		if !ok {
			continue
		}
		for _, route := range provider.Routes() {
			out = append(out, Route{
				Method:  route.Method,
				Path:    route.Path,
				Handler: AuthWrap(route.Handler, r),
			})
		}
	}
	return out
}

// WebSocketHandlers returns every plugin that opted into the composed
// WebSocket handler, in registration order. If exactly one plugin
// provides a handler, the pipeline forwards to it directly (spec.md §4.3:
// "zero overhead" when there's only one).
func (r *Registry) WebSocketHandlers() []WSHandler {
	var out []WSHandler
	for _, e := range r.snapshot() {
		provider, ok := e.handler.(WebSocketProvider)
		if !ok {
			continue
		}
		out = append(out, provider.WebSocket())
	}
	return out
}

// GetPlugin implements Capabilities.
func (r *Registry) GetPlugin(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// GetService implements Capabilities.
func (r *Registry) GetService(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// RegisterService implements Capabilities.
func (r *Registry) RegisterService(name string, svc any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
}
