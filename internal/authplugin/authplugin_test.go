package authplugin

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apprun/core/internal/plugin"
	"github.com/apprun/core/internal/workermsg"
)

func testContext(options map[string]any) *plugin.Context {
	return plugin.NewContext("auth", options, plugin.RuntimeInfo{}, zerolog.Nop(), nil, nil)
}

func TestOnInit_RequiresSecret(t *testing.T) {
	p := &Plugin{}
	err := p.OnInit(testContext(map[string]any{}))
	require.Error(t, err)
}

func TestOnInit_DefaultsBaseAndPublicPaths(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.OnInit(testContext(map[string]any{"secret": "topsecret"})))
	assert.Equal(t, "/auth", p.base)
	assert.True(t, p.publicPaths["/auth/login"])
	assert.True(t, p.publicPaths["/auth/callback"])
}

func TestOnInit_WithoutIssuerSkipsOIDC(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.OnInit(testContext(map[string]any{"secret": "topsecret"})))
	assert.Nil(t, p.oauth)
}

func TestOnRequest_PublicPathBypassesAuth(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.OnInit(testContext(map[string]any{"secret": "topsecret"})))

	resp, err := p.OnRequest(nil, &workermsg.Request{URL: "/auth/login"})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestOnRequest_MissingBearerTokenIsDenied(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.OnInit(testContext(map[string]any{"secret": "topsecret"})))

	_, err := p.OnRequest(nil, &workermsg.Request{URL: "/plugins/other/do", Headers: map[string]string{}})
	require.Error(t, err)
}

func TestOnRequest_ValidBearerTokenIsAllowed(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.OnInit(testContext(map[string]any{"secret": "topsecret"})))

	token, err := p.issueSession("user-1", "user@example.com", false)
	require.NoError(t, err)

	_, err = p.OnRequest(nil, &workermsg.Request{
		URL:     "/plugins/other/do",
		Headers: map[string]string{"Authorization": "Bearer " + token},
	})
	assert.NoError(t, err)
}

func TestOnRequest_ExpiredTokenIsDenied(t *testing.T) {
	p := &Plugin{}
	require.NoError(t, p.OnInit(testContext(map[string]any{"secret": "topsecret"})))

	claims := sessionClaims{
		Subject: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.signingKey)
	require.NoError(t, err)

	_, err = p.OnRequest(nil, &workermsg.Request{
		URL:     "/plugins/other/do",
		Headers: map[string]string{"Authorization": "Bearer " + signed},
	})
	assert.Error(t, err)
}

func TestIsPublic_WildcardPrefixMatch(t *testing.T) {
	p := &Plugin{publicPaths: map[string]bool{"/assets/*": true}}
	assert.True(t, p.isPublic("/assets/logo.png"))
	assert.False(t, p.isPublic("/api/private"))
}

func TestBearerToken_CaseInsensitiveHeaderLookup(t *testing.T) {
	assert.Equal(t, "abc123", bearerToken(map[string]string{"authorization": "Bearer abc123"}))
	assert.Equal(t, "", bearerToken(map[string]string{"authorization": "Basic abc123"}))
	assert.Equal(t, "", bearerToken(map[string]string{}))
}

func TestPathOf_StripsQueryAndFragment(t *testing.T) {
	assert.Equal(t, "/kv/foo", pathOf("/kv/foo?bar=1#frag"))
	assert.Equal(t, "/kv/foo", pathOf("/kv/foo"))
}

func TestIssueSessionThenParseToken_RoundTrip(t *testing.T) {
	p := &Plugin{signingKey: []byte("topsecret")}
	token, err := p.issueSession("user-1", "user@example.com", true)
	require.NoError(t, err)

	claims, err := p.parseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.True(t, claims.TOTPDone)
}
