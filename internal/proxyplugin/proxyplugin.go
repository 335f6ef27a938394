// Package proxyplugin is the built-in reverse-proxy plugin of
// SPEC_FULL.md §5.3: it claims base "/proxy", forwards requests to a
// configured upstream, and performs the `<base>` injection and
// relative-path rewrite spec.md §1's Non-goals carve out as the one
// content transformation the core still performs for proxied HTML.
package proxyplugin

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/apprun/core/internal/apperrors"
	"github.com/apprun/core/internal/plugin"
)

func init() {
	plugin.Register("proxy", func() plugin.Handler { return &Plugin{} })
}

var methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions}

// Plugin reverse-proxies everything under its base path to a single
// configured upstream, rewriting proxied HTML responses.
type Plugin struct {
	base    string
	target  *url.URL
	proxy   *httputil.ReverseProxy
	sanitize *bluemonday.Policy
}

// OnInit reads the manifest's "target" option (the upstream base URL) and
// builds the reverse proxy, per spec.md §4.3's free-form options contract.
func (p *Plugin) OnInit(ctx *plugin.Context) error {
	p.base = "/proxy"
	if b, ok := ctx.Options["base"].(string); ok && b != "" {
		p.base = b
	}

	targetStr, _ := ctx.Options["target"].(string)
	if targetStr == "" {
		return apperrors.New(apperrors.ErrCodeInternalServer, "proxy plugin requires a \"target\" option")
	}
	target, err := url.Parse(targetStr)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternalServer, "proxy plugin target is not a valid URL", err)
	}
	p.target = target

	p.sanitize = bluemonday.UGCPolicy()
	p.sanitize.AllowAttrs("href").OnElements("base")

	rp := httputil.NewSingleHostReverseProxy(target)
	rp.ModifyResponse = p.rewriteHTML
	p.proxy = rp
	return nil
}

// Routes implements plugin.RoutesProvider, mounting the proxy under every
// common HTTP method since a reverse proxy has no single verb.
func (p *Plugin) Routes() []plugin.Route {
	routes := make([]plugin.Route, 0, len(methods))
	for _, m := range methods {
		routes = append(routes, plugin.Route{Method: m, Path: p.base + "/*proxypath", Handler: p.serve})
	}
	return routes
}

func (p *Plugin) serve(w http.ResponseWriter, r *http.Request) {
	r.URL.Path = strings.TrimPrefix(r.URL.Path, p.base)
	if r.URL.Path == "" {
		r.URL.Path = "/"
	}
	p.proxy.ServeHTTP(w, r)
}

// rewriteHTML injects a <base href="{base}/"> tag and rewrites root-relative
// links in proxied HTML responses, then sanitizes the result, per spec.md
// §1's one permitted content transformation.
func (p *Plugin) rewriteHTML(res *http.Response) error {
	contentType := res.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		return nil
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	res.Body.Close()

	rewritten := injectBase(string(body), p.base+"/")
	sanitized := p.sanitize.Sanitize(rewritten)

	res.Body = io.NopCloser(bytes.NewBufferString(sanitized))
	res.ContentLength = int64(len(sanitized))
	res.Header.Set("Content-Length", itoa(len(sanitized)))
	return nil
}

// injectBase inserts a <base href> tag right after <head> (case-insensitive)
// and rewrites root-relative href/src attributes onto baseHref, so assets
// resolve against the proxy's mount point instead of the site root.
func injectBase(html, baseHref string) string {
	for _, attr := range []string{`href="/`, `src="/`} {
		rewritten := strings.Replace(attr, `"/`, `"`+baseHref, 1)
		html = strings.ReplaceAll(html, attr, rewritten)
	}

	lower := strings.ToLower(html)
	idx := strings.Index(lower, "<head>")
	tag := `<base href="` + baseHref + `">`
	if idx == -1 {
		html = tag + html
	} else {
		insertAt := idx + len("<head>")
		html = html[:insertAt] + tag + html[insertAt:]
	}
	return html
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 8)
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}
