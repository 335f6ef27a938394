package proxyplugin

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apprun/core/internal/plugin"
)

func testContext(options map[string]any) *plugin.Context {
	return plugin.NewContext("proxy", options, plugin.RuntimeInfo{}, zerolog.Nop(), nil, nil)
}

func TestInjectBase_InsertsAfterHead(t *testing.T) {
	out := injectBase("<html><head><title>t</title></head><body></body></html>", "/proxy/")
	assert.Contains(t, out, `<base href="/proxy/">`)
	assert.True(t, indexOf(out, "<head>") < indexOf(out, `<base href`))
}

func TestInjectBase_PrependsWhenNoHead(t *testing.T) {
	out := injectBase("<body>hi</body>", "/proxy/")
	assert.True(t, indexOf(out, `<base href`) == 0)
}

func TestInjectBase_RewritesRootRelativeLinks(t *testing.T) {
	out := injectBase(`<a href="/assets/app.js">x</a>`, "/proxy/")
	assert.Contains(t, out, `href="/proxy/assets/app.js"`)
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "42", itoa(42))
	assert.Equal(t, "1024", itoa(1024))
}

func TestOnInit_RequiresTargetOption(t *testing.T) {
	p := &Plugin{}
	err := p.OnInit(testContext(map[string]any{}))
	require.Error(t, err)
}

func TestOnInit_DefaultsBaseAndBuildsProxy(t *testing.T) {
	p := &Plugin{}
	err := p.OnInit(testContext(map[string]any{"target": "http://upstream.internal"}))
	require.NoError(t, err)
	assert.Equal(t, "/proxy", p.base)
	assert.NotNil(t, p.proxy)
}

func TestRoutes_CoversEveryMethod(t *testing.T) {
	p := &Plugin{base: "/proxy"}
	routes := p.Routes()
	assert.Len(t, routes, len(methods))
	for _, r := range routes {
		assert.Equal(t, "/proxy/*proxypath", r.Path)
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
