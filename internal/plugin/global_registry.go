package plugin

import "sync"

// Factory constructs a fresh plugin instance. Built-in plugins
// (proxyplugin, authplugin, kvplugin, hranaplugin) call Register from an
// init() function so the supervisor discovers them without a hardcoded
// list, grounded on the auto-registration pattern in
// streamspace-dev-streamspace/api/internal/plugins/registry.go.
type Factory func() Handler

var (
	globalMu  sync.RWMutex
	globalFns = make(map[string]Factory)
)

// Register adds a built-in plugin factory under name. A second
// registration under the same name overwrites the first, matching the
// teacher's hot-reload-friendly semantics.
func Register(name string, factory Factory) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalFns[name] = factory
}

// BuiltinFactories returns a snapshot of every built-in plugin factory
// registered so far, keyed by name.
func BuiltinFactories() map[string]Factory {
	globalMu.RLock()
	defer globalMu.RUnlock()
	out := make(map[string]Factory, len(globalFns))
	for k, v := range globalFns {
		out[k] = v
	}
	return out
}
