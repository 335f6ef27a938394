package kvplugin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apprun/core/internal/plugin"
)

func newTestPlugin() *Plugin {
	return &Plugin{base: "/kv", store: newMemoryStore()}
}

func testContext(options map[string]any) *plugin.Context {
	return plugin.NewContext("kv", options, plugin.RuntimeInfo{}, zerolog.Nop(), nil, nil)
}

func TestKeyOf_StripsBasePrefix(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/kv/foo/bar", nil)
	assert.Equal(t, "foo/bar", keyOf(r, "/kv"))
}

func TestKeyOf_EmptyWhenNoKeySegment(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/kv", nil)
	assert.Equal(t, "", keyOf(r, "/kv"))
}

func TestHandleSetThenGet_RoundTrip(t *testing.T) {
	p := newTestPlugin()

	setReq := httptest.NewRequest(http.MethodPut, "/kv/widget", strings.NewReader("payload"))
	setRec := httptest.NewRecorder()
	p.handleSet(setRec, setReq)
	require.Equal(t, http.StatusNoContent, setRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/kv/widget", nil)
	getRec := httptest.NewRecorder()
	p.handleGet(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)
	assert.Equal(t, "payload", getRec.Body.String())
}

func TestHandleGet_MissingKeyReturns404(t *testing.T) {
	p := newTestPlugin()
	req := httptest.NewRequest(http.MethodGet, "/kv/missing", nil)
	rec := httptest.NewRecorder()
	p.handleGet(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDelete_RemovesKey(t *testing.T) {
	p := newTestPlugin()
	setReq := httptest.NewRequest(http.MethodPut, "/kv/widget", strings.NewReader("payload"))
	p.handleSet(httptest.NewRecorder(), setReq)

	delReq := httptest.NewRequest(http.MethodDelete, "/kv/widget", nil)
	delRec := httptest.NewRecorder()
	p.handleDelete(delRec, delReq)
	assert.Equal(t, http.StatusNoContent, delRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/kv/widget", nil)
	getRec := httptest.NewRecorder()
	p.handleGet(getRec, getReq)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestOnInit_DefaultsToMemoryStoreAndBase(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.OnInit(testContext(nil)))
	assert.Equal(t, "/kv", p.base)
	_, isMemory := p.store.(*memoryStore)
	assert.True(t, isMemory)
}

func TestOnInit_CustomBase(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.OnInit(testContext(map[string]any{"base": "/store"})))
	assert.Equal(t, "/store", p.base)
}

func TestProvides_PublishesStoreService(t *testing.T) {
	p := newTestPlugin()
	provided, err := p.Provides(nil)
	require.NoError(t, err)
	assert.Same(t, p.store, provided["kv"])
}
