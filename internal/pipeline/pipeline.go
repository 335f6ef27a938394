// Package pipeline is the Request Pipeline Glue named in spec.md §2's
// share table: the gin-based HTTP front end that runs plugin onRequest/
// onResponse hooks around the worker pool dispatch, and routes WebSocket
// upgrades on /ws to the composed handler of every plugin that provides
// one.
package pipeline

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/config"
	"github.com/apprun/core/internal/logger"
	"github.com/apprun/core/internal/plugin"
	"github.com/apprun/core/internal/workermsg"
	"github.com/apprun/core/internal/workerpool"
)

// Pipeline wires the worker pool and plugin registry behind a gin.Engine,
// per SPEC_FULL.md §6's data flow: onRequest -> resolve app dir -> pool
// dispatch -> onResponse.
type Pipeline struct {
	Config   config.Config
	Pool     *workerpool.Pool
	Registry *plugin.Registry
	Log      zerolog.Logger

	Engine *gin.Engine
}

// New builds the gin.Engine and mounts every route: plugin static routes
// (auth-wrapped by Registry.Routes), the composed WebSocket upgrade, and
// the catch-all worker dispatch handler.
func New(cfg config.Config, pool *workerpool.Pool, registry *plugin.Registry) *Pipeline {
	log := logger.HTTP()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(RequestID())
	engine.Use(Recovery(log))
	engine.Use(StructuredLogger(log))
	engine.Use(RequestSizeLimiter(cfg.DefaultMaxBodyBytes))

	p := &Pipeline{Config: cfg, Pool: pool, Registry: registry, Log: log, Engine: engine}

	for _, route := range registry.Routes() {
		engine.Handle(route.Method, route.Path, gin.WrapF(route.Handler))
	}

	engine.GET("/ws", p.handleWebSocketUpgrade)

	engine.NoRoute(p.handleDispatch)

	return p
}

// ResolveAppDir maps an incoming URL path onto the tenant application
// directory WorkerPool.Fetch expects. The first path segment is the
// application's "name@version" (or bare "name", defaulting to "latest")
// joined onto config.Config.AppsRoot; spec.md leaves this mapping to "the
// pipeline" without further detail (SPEC_FULL.md §6), so this is an Open
// Question decision recorded in DESIGN.md.
func (p *Pipeline) ResolveAppDir(urlPath string) (appDir, rest string) {
	trimmed := strings.TrimPrefix(urlPath, "/")
	segs := strings.SplitN(trimmed, "/", 2)
	appSeg := segs[0]
	if len(segs) == 2 {
		rest = "/" + segs[1]
	} else {
		rest = "/"
	}
	return filepath.Join(p.Config.AppsRoot, appSeg), rest
}

func (p *Pipeline) handleDispatch(c *gin.Context) {
	r := c.Request
	w := c.Writer

	appDir, rest := p.ResolveAppDir(r.URL.Path)
	wc := resolveWorkerConfig(appDir, p.Config)

	body, err := io.ReadAll(io.LimitReader(r.Body, wc.MaxBodyBytes+1))
	if err != nil {
		writeAppError(w, apperrors.Wrap(apperrors.ErrCodeBadRequest, "failed to read request body", err))
		return
	}
	if int64(len(body)) > wc.MaxBodyBytes {
		writeAppError(w, apperrors.New(apperrors.ErrCodeBadRequest, "request body exceeds the application's configured limit"))
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	req := &workermsg.Request{Method: r.Method, URL: rest + queryOf(r), Headers: headers, Body: body}

	if res, err := p.Registry.RunOnRequest(req); err != nil {
		writeAppError(w, apperrors.Wrap(apperrors.ErrCodeInternalServer, "onRequest hook failed", err))
		return
	} else if res != nil {
		p.finish(w, res)
		return
	}

	secFetchDest := workerpool.SecFetchDestOf(r)
	res, err := p.Pool.Fetch(r.Context(), appDir, wc, *req, secFetchDest)
	if err != nil {
		p.Log.Error().Err(err).Str("app_dir", appDir).Msg("worker dispatch failed")
		writeAppError(w, apperrors.Wrap(apperrors.ErrCodeWorkerRequest, "worker dispatch failed", err))
		return
	}

	p.finish(w, res)
}

func (p *Pipeline) finish(w http.ResponseWriter, res *workermsg.Response) {
	if err := p.Registry.RunOnResponse(res); err != nil {
		p.Log.Error().Err(err).Msg("onResponse hook failed")
	}
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(res.Body)
}

func queryOf(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

func writeAppError(w http.ResponseWriter, appErr *apperrors.AppError) {
	resp := appErr.ToResponse()
	body, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_, _ = w.Write(body)
}
