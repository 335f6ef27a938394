// Command apprund is the Application Runtime Core's supervisor process: it
// loads configuration, builds the worker pool, discovers and loads
// plugins, mounts the request pipeline, and serves HTTP with graceful
// shutdown, following the structure of the teacher's cmd/main.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apprun/core/internal/config"
	"github.com/apprun/core/internal/hrana/adapter"
	"github.com/apprun/core/internal/hrana/adapter/postgres"
	"github.com/apprun/core/internal/logger"
	"github.com/apprun/core/internal/metrics"
	"github.com/apprun/core/internal/pipeline"
	"github.com/apprun/core/internal/plugin"
	"github.com/apprun/core/internal/workerpool"

	// Built-in plugins register themselves via plugin.Register in their
	// init() functions; these imports are for that side effect only.
	_ "github.com/apprun/core/internal/authplugin"
	_ "github.com/apprun/core/internal/hranaplugin"
	_ "github.com/apprun/core/internal/kvplugin"
	_ "github.com/apprun/core/internal/proxyplugin"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.Component("apprund")

	log.Info().Msg("starting apprun core")

	promReg := prometheus.NewRegistry()
	poolMetrics := metrics.NewPoolMetrics("apprun", promReg)

	pool := workerpool.NewPool(cfg.PoolMaxSize, workerpool.NewExecProcess, poolMetrics, logger.Pool())

	services := buildPreServices(cfg)

	scanned, warnings, err := plugin.Discover(cfg.PluginDirs)
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("plugin discovery failed")
	}

	runtime := plugin.RuntimeInfo{APIPrefix: cfg.APIPrefix, Version: version}
	registry, loadWarnings, err := plugin.Load(scanned, plugin.BuiltinFactories(), runtime, pool, logger.Plugin(), services)
	for _, w := range loadWarnings {
		log.Warn().Msg(w)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("plugin load failed")
	}

	if cfg.NatsURL != "" {
		if err := registry.Events.EnableNATSBridge(cfg.NatsURL); err != nil {
			log.Warn().Err(err).Msg("failed to bridge plugin event bus onto NATS, continuing in-process only")
		} else {
			log.Info().Msg("plugin event bus bridged onto NATS")
		}
	}

	registry.RunOnServerStart()

	pl := pipeline.New(cfg, pool, registry)
	pl.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
	pl.Engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           pl.Engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("apprun core listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}
	if err := pool.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("worker pool shutdown reported errors")
	}
	registry.Shutdown()
	registry.Events.CloseNATSBridge()

	log.Info().Msg("apprun core stopped")
}

// buildPreServices wires the core-level services every plugin's OnInit may
// depend on via Context.GetService, ahead of plugin.Load so hranaplugin's
// database-adapter-resolver lookup succeeds regardless of load order.
func buildPreServices(cfg config.Config) map[string]any {
	factory := func(dsn string) (adapter.Adapter, error) {
		host, port, user, password, dbname, sslmode, err := adapter.ParseDSNFields(dsn)
		if err != nil {
			return nil, err
		}
		return postgres.New(postgres.Config{Host: host, Port: port, User: user, Password: password, DBName: dbname, SSLMode: sslmode})
	}
	resolver := adapter.NewPostgresResolver(cfg.DatabaseURL, cfg.DatabaseNamespaceDSNTemplate, factory)
	return map[string]any{"database-adapter-resolver": resolver}
}
