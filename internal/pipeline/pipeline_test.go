package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apprun/core/internal/config"
)

func TestResolveAppDir_SingleSegment(t *testing.T) {
	p := &Pipeline{Config: config.Config{AppsRoot: "/apps"}}
	dir, rest := p.ResolveAppDir("/myapp")
	assert.Equal(t, "/apps/myapp", dir)
	assert.Equal(t, "/", rest)
}

func TestResolveAppDir_WithSubPath(t *testing.T) {
	p := &Pipeline{Config: config.Config{AppsRoot: "/apps"}}
	dir, rest := p.ResolveAppDir("/myapp/api/users")
	assert.Equal(t, "/apps/myapp", dir)
	assert.Equal(t, "/api/users", rest)
}

func TestQueryOf_EmptyWhenNoQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, "", queryOf(r))
}

func TestQueryOf_PrefixesWithQuestionMark(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?a=1&b=2", nil)
	assert.Equal(t, "?a=1&b=2", queryOf(r))
}
