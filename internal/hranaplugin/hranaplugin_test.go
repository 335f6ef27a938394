package hranaplugin

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apprun/core/internal/hrana/adapter"
	"github.com/apprun/core/internal/plugin"
)

type fakeCaps struct {
	services map[string]any
}

func (c *fakeCaps) GetPlugin(string) (plugin.Handler, bool) { return nil, false }
func (c *fakeCaps) GetService(name string) (any, bool) {
	v, ok := c.services[name]
	return v, ok
}
func (c *fakeCaps) RegisterService(name string, svc any) { c.services[name] = svc }

type fakeResolver struct{}

func (fakeResolver) GetAdapter(string, string) (adapter.Adapter, error)     { return nil, nil }
func (fakeResolver) GetRootAdapter(string) (adapter.Adapter, error)         { return nil, nil }

func TestOnInit_FailsWithoutResolverService(t *testing.T) {
	p := &Plugin{}
	caps := &fakeCaps{services: map[string]any{}}
	ctx := plugin.NewContext("hrana", map[string]any{}, plugin.RuntimeInfo{}, zerolog.Nop(), nil, caps)

	err := p.OnInit(ctx)
	require.Error(t, err)
}

func TestOnInit_FailsWhenResolverHasWrongType(t *testing.T) {
	p := &Plugin{}
	caps := &fakeCaps{services: map[string]any{"database-adapter-resolver": "not-a-resolver"}}
	ctx := plugin.NewContext("hrana", map[string]any{}, plugin.RuntimeInfo{}, zerolog.Nop(), nil, caps)

	err := p.OnInit(ctx)
	require.Error(t, err)
}

func TestOnInit_BuildsServerWithValidResolver(t *testing.T) {
	p := &Plugin{}
	caps := &fakeCaps{services: map[string]any{"database-adapter-resolver": fakeResolver{}}}
	ctx := plugin.NewContext("hrana", map[string]any{"base": "/custom-db"}, plugin.RuntimeInfo{}, zerolog.Nop(), nil, caps)

	err := p.OnInit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/custom-db", p.base)
	assert.NotNil(t, p.server)

	routes := p.Routes()
	assert.Len(t, routes, 2)

	require.NoError(t, p.OnShutdown(ctx))
}
