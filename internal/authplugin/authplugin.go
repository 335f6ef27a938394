// Package authplugin is the built-in authentication plugin of
// SPEC_FULL.md §5.3: bearer-JWT validation on every request, an
// OIDC-discovery login flow, and optional TOTP step-up, implementing the
// auth-wrap deny-by-default contract of spec.md §4.3.1.
package authplugin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/oauth2"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/plugin"
	"github.com/apprun/core/internal/workermsg"
)

func init() {
	plugin.Register("auth", func() plugin.Handler { return &Plugin{} })
}

// sessionClaims is the payload of the JWT the plugin issues after a
// successful OIDC login, and the shape it expects on the bearer token of
// every subsequent request.
type sessionClaims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email,omitempty"`
	TOTPDone  bool   `json:"totp_done,omitempty"`
	jwt.RegisteredClaims
}

// identityProvider is the interface authplugin drives its OIDC login flow
// through, so the provider stays an external collaborator the plugin never
// constructs concretely outside OnInit — kept narrow for testability.
type identityProvider interface {
	Endpoint() oauth2.Endpoint
	Verifier(*oidc.Config) *oidc.IDTokenVerifier
}

// Plugin validates bearer JWTs on every request (deny-by-default unless the
// path is listed as public) and exposes /login, /callback, /totp/enroll and
// /totp/verify routes for the OIDC + TOTP step-up flow.
type Plugin struct {
	base       string
	publicPaths map[string]bool
	signingKey []byte

	provider   identityProvider
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier

	totpIssuer string

	mu     sync.Mutex
	states map[string]time.Time // oauth state -> expiry, for CSRF protection on /callback
}

// OnInit reads the plugin manifest's options: "secret" (HMAC signing key
// for issued session JWTs), "publicPaths" ([]any of string paths exempt
// from auth, matched exactly unless an entry ends in "*", which makes it a
// prefix match), and the OIDC provider coordinates ("issuer",
// "clientId", "clientSecret", "redirectUrl"). OIDC wiring is optional: a
// deployment that only validates pre-issued JWTs can omit it.
func (p *Plugin) OnInit(ctx *plugin.Context) error {
	p.base = "/auth"
	if b, ok := ctx.Options["base"].(string); ok && b != "" {
		p.base = b
	}

	secret, _ := ctx.Options["secret"].(string)
	if secret == "" {
		return apperrors.New(apperrors.ErrCodeInternalServer, "auth plugin requires a \"secret\" option")
	}
	p.signingKey = []byte(secret)

	p.publicPaths = map[string]bool{p.base + "/login": true, p.base + "/callback": true}
	if raw, ok := ctx.Options["publicPaths"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				p.publicPaths[s] = true
			}
		}
	}

	p.totpIssuer, _ = ctx.Options["totpIssuer"].(string)
	if p.totpIssuer == "" {
		p.totpIssuer = "apprun"
	}

	p.states = make(map[string]time.Time)

	issuer, _ := ctx.Options["issuer"].(string)
	if issuer == "" {
		return nil
	}

	provider, err := oidc.NewProvider(context.Background(), issuer)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternalServer, "failed to discover OIDC provider", err)
	}
	clientID, _ := ctx.Options["clientId"].(string)
	clientSecret, _ := ctx.Options["clientSecret"].(string)
	redirectURL, _ := ctx.Options["redirectUrl"].(string)

	p.provider = provider
	p.oauth = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: clientID})
	return nil
}

// OnRequest implements the deny-by-default contract: any request whose
// path is not in publicPaths must carry a valid bearer JWT signed with
// signingKey, or the hook errors. AuthWrap turns that error into a 401 on
// plugin static routes; on the worker-dispatch path Registry.RunOnRequest
// logs it and continues with the next hook.
func (p *Plugin) OnRequest(ctx *plugin.Context, req *workermsg.Request) (*workermsg.Response, error) {
	path := pathOf(req.URL)
	if p.isPublic(path) {
		return nil, nil
	}

	token := bearerToken(req.Headers)
	if token == "" {
		return nil, apperrors.Unauthorized("missing bearer token")
	}
	if _, err := p.parseToken(token); err != nil {
		return nil, apperrors.Unauthorized("invalid or expired bearer token")
	}
	return nil, nil
}

func (p *Plugin) isPublic(path string) bool {
	if p.publicPaths[path] {
		return true
	}
	for prefix := range p.publicPaths {
		if strings.HasSuffix(prefix, "*") && strings.HasPrefix(path, strings.TrimSuffix(prefix, "*")) {
			return true
		}
	}
	return false
}

func (p *Plugin) parseToken(token string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.Unauthorized("unexpected signing method")
		}
		return p.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Routes implements plugin.RoutesProvider: the OIDC login/callback pair
// plus TOTP enrollment and step-up verification endpoints.
func (p *Plugin) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: p.base + "/login", Handler: p.handleLogin},
		{Method: http.MethodGet, Path: p.base + "/callback", Handler: p.handleCallback},
		{Method: http.MethodPost, Path: p.base + "/totp/verify", Handler: p.handleTOTPVerify},
		{Method: http.MethodPost, Path: p.base + "/totp/enroll", Handler: p.handleTOTPEnroll},
	}
}

func (p *Plugin) handleLogin(w http.ResponseWriter, r *http.Request) {
	if p.oauth == nil {
		writeJSONError(w, http.StatusServiceUnavailable, apperrors.New(apperrors.ErrCodeServiceUnavailable, "OIDC login is not configured"))
		return
	}
	state := uuid.NewString()
	p.mu.Lock()
	p.states[state] = time.Now().Add(10 * time.Minute)
	p.mu.Unlock()

	http.Redirect(w, r, p.oauth.AuthCodeURL(state), http.StatusFound)
}

func (p *Plugin) handleCallback(w http.ResponseWriter, r *http.Request) {
	if p.oauth == nil {
		writeJSONError(w, http.StatusServiceUnavailable, apperrors.New(apperrors.ErrCodeServiceUnavailable, "OIDC login is not configured"))
		return
	}

	state := r.URL.Query().Get("state")
	p.mu.Lock()
	expiry, ok := p.states[state]
	delete(p.states, state)
	p.mu.Unlock()
	if !ok || time.Now().After(expiry) {
		writeJSONError(w, http.StatusBadRequest, apperrors.BadRequest("invalid or expired oauth state"))
		return
	}

	oauth2Token, err := p.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, apperrors.Wrap(apperrors.ErrCodeUnauthorized, "code exchange failed", err))
		return
	}
	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, apperrors.Unauthorized("token response missing id_token"))
		return
	}
	idToken, err := p.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, apperrors.Wrap(apperrors.ErrCodeUnauthorized, "id_token verification failed", err))
		return
	}

	var claims struct {
		Email string `json:"email"`
	}
	_ = idToken.Claims(&claims)

	session, err := p.issueSession(idToken.Subject, claims.Email, false)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.ErrCodeInternalServer, "failed to issue session", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": session})
}

func (p *Plugin) issueSession(subject, email string, totpDone bool) (string, error) {
	claims := sessionClaims{
		Subject:  subject,
		Email:    email,
		TOTPDone: totpDone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.signingKey)
}

type totpEnrollRequest struct {
	Subject string `json:"subject"`
}

func (p *Plugin) handleTOTPEnroll(w http.ResponseWriter, r *http.Request) {
	var body totpEnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Subject == "" {
		writeJSONError(w, http.StatusBadRequest, apperrors.BadRequest("subject is required"))
		return
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: p.totpIssuer, AccountName: body.Subject})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.ErrCodeInternalServer, "failed to generate TOTP secret", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": key.Secret(), "url": key.URL()})
}

type totpVerifyRequest struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// handleTOTPVerify implements the optional step-up: given a valid session
// token, a TOTP secret and a code, it re-issues the session with
// TOTPDone=true so protected routes requiring step-up can check it.
func (p *Plugin) handleTOTPVerify(w http.ResponseWriter, r *http.Request) {
	var body totpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, apperrors.BadRequest("malformed TOTP verification request"))
		return
	}
	claims, err := p.parseToken(body.Token)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, apperrors.Unauthorized("invalid or expired bearer token"))
		return
	}
	if !totp.Validate(body.Code, body.Secret) {
		writeJSONError(w, http.StatusUnauthorized, apperrors.Unauthorized("invalid TOTP code"))
		return
	}
	session, err := p.issueSession(claims.Subject, claims.Email, true)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, apperrors.Wrap(apperrors.ErrCodeInternalServer, "failed to issue session", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": session})
}

func bearerToken(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "Authorization") {
			const prefix = "Bearer "
			if strings.HasPrefix(v, prefix) {
				return strings.TrimPrefix(v, prefix)
			}
		}
	}
	return ""
}

func pathOf(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i != -1 {
		return rawURL[:i]
	}
	return rawURL
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, appErr *apperrors.AppError) {
	writeJSON(w, status, appErr.ToResponse())
}
