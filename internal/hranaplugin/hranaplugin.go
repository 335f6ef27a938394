// Package hranaplugin is the thin built-in plugin mounting the HRANA
// Protocol Server (internal/hrana) onto the request pipeline at a
// configurable base path, per SPEC_FULL.md §5.3/§5.4.
package hranaplugin

import (
	"net/http"
	"time"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/hrana"
	"github.com/apprun/core/internal/hrana/adapter"
	"github.com/apprun/core/internal/plugin"
)

func init() {
	plugin.Register("hrana", func() plugin.Handler { return &Plugin{} })
}

// Plugin mounts POST {base} for the pipeline endpoint and GET {base}/ws
// for the WebSocket bridge. Its adapter Resolver is looked up from the
// shared service registry under "database-adapter-resolver", registered by
// whichever plugin owns adapter provisioning (or wired directly by
// cmd/apprund for a single-tenant deployment).
type Plugin struct {
	base   string
	server *hrana.Server
}

// OnInit builds the SessionManager and resolves the adapter.Resolver
// service, per spec.md §4.3's onInit contract.
func (p *Plugin) OnInit(ctx *plugin.Context) error {
	p.base = "/db"
	if b, ok := ctx.Options["base"].(string); ok && b != "" {
		p.base = b
	}

	ttl := 30 * time.Second
	sweep := 60 * time.Second
	sm := hrana.NewSessionManager(ttl, sweep, ctx.Logger)

	resolver, ok := ctx.GetService("database-adapter-resolver")
	if !ok {
		return apperrors.New(apperrors.ErrCodeInternalServer, "hrana plugin requires a database-adapter-resolver service")
	}
	r, ok := resolver.(adapter.Resolver)
	if !ok {
		return apperrors.New(apperrors.ErrCodeInternalServer, "database-adapter-resolver service has the wrong type")
	}

	p.server = hrana.NewServer(sm, r, ctx.Logger)
	return nil
}

// Routes implements plugin.RoutesProvider.
func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodPost, Path: p.base, Handler: p.server.HandlePipeline},
		{Method: http.MethodGet, Path: p.base + "/ws", Handler: p.server.HandleWebSocket},
	}
}

// OnShutdown stops the session sweeper.
func (p *Plugin) OnShutdown(ctx *plugin.Context) error {
	p.server.Pipeline.Sessions.Stop()
	return nil
}
