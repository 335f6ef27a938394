package plugin

import (
	"regexp"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/workerpool"
)

// InitTimeout is the fixed, non-configurable onInit budget from spec.md §4.3.
const InitTimeout = 30 * time.Second

var basePathPattern = regexp.MustCompile(`^/[a-zA-Z0-9_-]+$`)

// reservedBases can never be claimed by a plugin; they belong to the core.
var reservedBases = map[string]bool{
	"/api": true, "/": true, "/metrics": true, "/health": true,
}

// Load implements the load phase of spec.md §4.3: partition enabled vs
// disabled, build and topologically sort the dependency graph over
// enabled plugins, then for each plugin in order validate its base path,
// resolve its Handler implementation, build its Context, run onInit with
// a 30s timeout, and register provides().
//
// Go has no portable dynamic-import equivalent to the teacher's lazy
// module loading, so "resolve its implementation" here means looking the
// manifest's name up in builtins — the set of compiled-in plugin
// factories registered via plugin.Register in each built-in package's
// init(). This is the Go-native reading of spec.md's "import lazily,
// resolve direct object / default export / factory" step.
func Load(scanned []Discovered, builtins map[string]Factory, runtime RuntimeInfo, pool *workerpool.Pool, log zerolog.Logger, preServices map[string]any) (*Registry, []string, error) {
	var warnings []string

	enabled := make(map[string]Discovered)
	disabled := make(map[string]bool)
	for _, d := range scanned {
		if d.Manifest.IsEnabled() {
			enabled[d.Manifest.Name] = d
		} else {
			disabled[d.Manifest.Name] = true
			warnings = append(warnings, "plugin "+d.Manifest.Name+" is disabled, skipping")
		}
	}

	order, err := topoSort(enabled, disabled)
	if err != nil {
		return nil, warnings, err
	}

	reg := NewRegistry(log)
	// preServices seeds cross-plugin capabilities that exist outside any
	// single plugin (e.g. the HRANA database-adapter-resolver wired by
	// cmd/apprund) so they're visible to every plugin's OnInit/Provides.
	for name, svc := range preServices {
		reg.RegisterService(name, svc)
	}

	for _, name := range order {
		d := enabled[name]

		if d.Manifest.Base != "" {
			if !basePathPattern.MatchString(d.Manifest.Base) || reservedBases[d.Manifest.Base] {
				return nil, warnings, apperrors.PluginInvalidBase(name, d.Manifest.Base)
			}
		}

		factory, ok := builtins[name]
		if !ok {
			warnings = append(warnings, "plugin "+name+" has no compiled-in implementation, skipping")
			continue
		}
		handler := factory()

		ctx := NewContext(name, d.Manifest.Options, runtime, log.With().Str("plugin", name).Logger(), pool, reg).
			WithShared(reg.Scheduler, reg.Events)

		if err := runOnInitWithTimeout(handler, ctx); err != nil {
			return nil, warnings, err
		}

		if provider, ok := handler.(ProvidesHook); ok {
			provided, err := provider.Provides(ctx)
			if err != nil {
				return nil, warnings, err
			}
			for svcName, svc := range provided {
				reg.RegisterService(svcName, svc)
			}
		}

		if err := reg.RegisterWithBase(name, handler, ctx, d.Dir, d.Manifest.Base); err != nil {
			return nil, warnings, err
		}
	}

	return reg, warnings, nil
}

func runOnInitWithTimeout(handler Handler, ctx *Context) error {
	done := make(chan error, 1)
	go func() { done <- handler.OnInit(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(InitTimeout):
		return apperrors.New(apperrors.ErrCodePluginInitTimeout, "plugin \""+ctx.Name+"\" onInit timed out after 30s")
	}
}

// topoSort implements Kahn's algorithm over the required+optional
// dependency graph. A required dependency that is absent or disabled is a
// fatal configuration error distinguishing the two cases; an optional
// dependency that is absent is silently omitted from the graph. A
// non-empty residual after the algorithm terminates indicates a cycle.
func topoSort(enabled map[string]Discovered, disabled map[string]bool) ([]string, error) {
	inDegree := make(map[string]int)
	adj := make(map[string][]string)
	names := make([]string, 0, len(enabled))
	for name := range enabled {
		names = append(names, name)
		inDegree[name] = 0
	}
	sort.Strings(names) // deterministic base ordering before dependency edges

	for _, name := range names {
		d := enabled[name]
		for _, dep := range d.Manifest.Dependencies {
			if _, ok := enabled[dep]; !ok {
				return nil, apperrors.PluginDependencyMissing(name, dep, disabled[dep])
			}
			adj[dep] = append(adj[dep], name)
			inDegree[name]++
		}
		for _, dep := range d.Manifest.OptionalDependencies {
			if _, ok := enabled[dep]; !ok {
				continue
			}
			adj[dep] = append(adj[dep], name)
			inDegree[name]++
		}
	}

	var queue []string
	for _, name := range names {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		next := adj[n]
		sort.Strings(next)
		for _, m := range next {
			inDegree[m]--
			if inDegree[m] == 0 {
				queue = append(queue, m)
			}
		}
	}

	if len(order) != len(names) {
		residual := make([]string, 0)
		ordered := make(map[string]bool, len(order))
		for _, n := range order {
			ordered[n] = true
		}
		for _, n := range names {
			if !ordered[n] {
				residual = append(residual, n)
			}
		}
		return nil, apperrors.PluginDependencyCycle(residual)
	}

	return order, nil
}
