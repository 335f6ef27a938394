package plugin

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopPlugin struct {
	initErr error
}

func (p *noopPlugin) OnInit(ctx *Context) error { return p.initErr }

func enabledManifest(name string, deps, optDeps []string) Discovered {
	return Discovered{Manifest: Manifest{Name: name, Dependencies: deps, OptionalDependencies: optDeps}, Entry: name + ".js", Dir: "/plugins/" + name}
}

func TestTopoSortOrdersByDependency(t *testing.T) {
	scanned := []Discovered{
		enabledManifest("b", []string{"a"}, nil),
		enabledManifest("a", nil, nil),
		enabledManifest("c", []string{"a", "b"}, nil),
	}
	builtins := map[string]Factory{
		"a": func() Handler { return &noopPlugin{} },
		"b": func() Handler { return &noopPlugin{} },
		"c": func() Handler { return &noopPlugin{} },
	}

	reg, warnings, err := Load(scanned, builtins, RuntimeInfo{}, nil, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	_, aOK := reg.GetPlugin("a")
	_, bOK := reg.GetPlugin("b")
	_, cOK := reg.GetPlugin("c")
	assert.True(t, aOK)
	assert.True(t, bOK)
	assert.True(t, cOK)

	var names []string
	for _, e := range reg.snapshot() {
		names = append(names, e.name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	scanned := []Discovered{
		enabledManifest("x", []string{"y"}, nil),
		enabledManifest("y", []string{"x"}, nil),
	}
	builtins := map[string]Factory{
		"x": func() Handler { return &noopPlugin{} },
		"y": func() Handler { return &noopPlugin{} },
	}

	_, _, err := Load(scanned, builtins, RuntimeInfo{}, nil, zerolog.Nop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLUGIN_DEPENDENCY_CYCLE")
}

func TestTopoSortFatalOnMissingRequiredDependency(t *testing.T) {
	scanned := []Discovered{
		enabledManifest("needs-absent", []string{"ghost"}, nil),
	}
	builtins := map[string]Factory{
		"needs-absent": func() Handler { return &noopPlugin{} },
	}

	_, _, err := Load(scanned, builtins, RuntimeInfo{}, nil, zerolog.Nop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLUGIN_DEPENDENCY_ERROR")
}

func TestOptionalDependencyAbsentIsSilentlyOmitted(t *testing.T) {
	scanned := []Discovered{
		enabledManifest("solo", nil, []string{"ghost"}),
	}
	builtins := map[string]Factory{
		"solo": func() Handler { return &noopPlugin{} },
	}

	reg, _, err := Load(scanned, builtins, RuntimeInfo{}, nil, zerolog.Nop(), nil)
	require.NoError(t, err)
	_, ok := reg.GetPlugin("solo")
	assert.True(t, ok)
}

func TestLoadFailsOnOnInitError(t *testing.T) {
	scanned := []Discovered{enabledManifest("broken", nil, nil)}
	builtins := map[string]Factory{
		"broken": func() Handler { return &noopPlugin{initErr: assertErr("init failed")} },
	}

	_, _, err := Load(scanned, builtins, RuntimeInfo{}, nil, zerolog.Nop(), nil)
	require.Error(t, err)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
