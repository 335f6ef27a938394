package plugin

import (
	"net/http"

	"github.com/apprun/core/internal/workermsg"
)

// Handler is the minimal contract every plugin implements: construction and
// initialization. All other lifecycle and request hooks are optional,
// expressed as separate interfaces a plugin may additionally satisfy —
// following the teacher's BasePlugin pattern (base_plugin.go), but using Go
// interface composition instead of a base struct with overridable no-ops,
// since the runtime here type-asserts for each optional hook rather than
// always calling through a fully-populated vtable.
type Handler interface {
	// OnInit is called once at load time, after the PluginContext is built,
	// with a 30s timeout (spec.md §4.3).
	OnInit(ctx *Context) error
}

// RequestHook lets a plugin observe or short-circuit incoming requests.
// Returning a non-nil response short-circuits the remaining hook chain.
type RequestHook interface {
	OnRequest(ctx *Context, req *workermsg.Request) (*workermsg.Response, error)
}

// ResponseHook lets a plugin observe or rewrite the outgoing response.
type ResponseHook interface {
	OnResponse(ctx *Context, res *workermsg.Response) error
}

// ServerStartHook is run once after every plugin has completed OnInit.
type ServerStartHook interface {
	OnServerStart(ctx *Context) error
}

// ShutdownHook is run in reverse registration order during shutdown.
type ShutdownHook interface {
	OnShutdown(ctx *Context) error
}

// WorkerSpawnHook fires after a worker instance is constructed.
type WorkerSpawnHook interface {
	OnWorkerSpawn(ctx *Context, workerID string) error
}

// WorkerTerminateHook fires after a worker instance is terminated.
type WorkerTerminateHook interface {
	OnWorkerTerminate(ctx *Context, workerID string) error
}

// ProvidesHook lets a plugin register named capabilities for other plugins
// to retrieve via Context.GetService, resolved once right after OnInit.
type ProvidesHook interface {
	Provides(ctx *Context) (map[string]any, error)
}

// Route is a static HTTP route a plugin contributes directly, outside the
// worker-dispatch path (e.g. the auth plugin's /login, the kv plugin's
// GET/PUT/DELETE /kv/{key}). Routes are auth-wrapped per spec.md §4.3.1.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// RoutesProvider lets a plugin contribute static routes.
type RoutesProvider interface {
	Routes() []Route
}

// WSHandler mirrors a WebSocket connection's three lifecycle events so
// multiple plugins can share one physical upgrade (spec.md §4.3's
// "composed: one physical upgrade" requirement).
type WSHandler interface {
	OnOpen(ctx *Context, conn WSConn)
	OnMessage(ctx *Context, conn WSConn, data []byte)
	OnClose(ctx *Context, conn WSConn)
}

// WSConn is the minimal surface a plugin needs from a WebSocket connection,
// implemented by the gorilla/websocket-backed connection in internal/pipeline.
type WSConn interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketProvider lets a plugin participate in the composed WS handler.
type WebSocketProvider interface {
	WebSocket() WSHandler
}
