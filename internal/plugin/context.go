package plugin

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/apprun/core/internal/workerpool"
)

// RuntimeInfo is the subset of the global runtime configuration a plugin
// is allowed to see (spec.md §4.3: "a subset of the runtime's global
// configuration").
type RuntimeInfo struct {
	APIPrefix string
	Version   string
}

// Capabilities exposes cross-plugin service sharing: getPlugin<T>(name) and
// registerService/getService, implemented by Registry.
type Capabilities interface {
	GetPlugin(name string) (Handler, bool)
	GetService(name string) (any, bool)
	RegisterService(name string, svc any)
}

// Context is the PluginContext of spec.md §4.3: per-plugin options, a
// scoped logger, optional worker-pool access, cross-plugin capability
// sharing, and read-only runtime metadata.
type Context struct {
	Name    string
	Options map[string]any
	Runtime RuntimeInfo
	Logger  zerolog.Logger

	// Pool is nil for plugins that don't need worker-pool access; present
	// so a plugin like hranaplugin or proxyplugin can still dispatch
	// through the same pool the pipeline uses.
	Pool *workerpool.Pool

	// cron and events are shared across every plugin's Context so plugins
	// can schedule jobs and exchange events with each other, grounded on
	// the teacher's Runtime.scheduler/eventBus fields.
	cron   *cron.Cron
	events *EventBus

	caps Capabilities
}

// NewContext builds a Context. caps may be nil during early bootstrap
// (e.g. before the registry exists), in which case GetPlugin/GetService
// calls return not-found rather than panicking.
func NewContext(name string, options map[string]any, runtime RuntimeInfo, logger zerolog.Logger, pool *workerpool.Pool, caps Capabilities) *Context {
	return &Context{
		Name:    name,
		Options: options,
		Runtime: runtime,
		Logger:  logger,
		Pool:    pool,
		caps:    caps,
	}
}

// WithShared attaches the process-wide cron scheduler and event bus,
// called once by the loader before distributing contexts to plugins.
func (c *Context) WithShared(scheduler *cron.Cron, events *EventBus) *Context {
	c.cron = scheduler
	c.events = events
	return c
}

// Scheduler exposes the shared cron.Cron instance to plugin code.
func (c *Context) Scheduler() *cron.Cron { return c.cron }

// Events exposes the shared EventBus to plugin code.
func (c *Context) Events() *EventBus { return c.events }

func (c *Context) GetPlugin(name string) (Handler, bool) {
	if c.caps == nil {
		return nil, false
	}
	return c.caps.GetPlugin(name)
}

func (c *Context) GetService(name string) (any, bool) {
	if c.caps == nil {
		return nil, false
	}
	return c.caps.GetService(name)
}

func (c *Context) RegisterService(name string, svc any) {
	if c.caps == nil {
		return
	}
	c.caps.RegisterService(name, svc)
}
