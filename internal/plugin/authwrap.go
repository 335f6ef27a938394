package plugin

import (
	"io"
	"net/http"

	"github.com/apprun/core/internal/workermsg"
)

// AuthWrap implements spec.md §4.3.1: before any plugin-provided static
// route runs, replay onRequest. If a hook returns a response, that
// response wins outright. If any hook throws, the request is denied
// (HTTP 401) regardless of which plugin threw. Only if every hook ran
// clean and produced no response does the original handler run.
func AuthWrap(next http.HandlerFunc, registry *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := toWorkerRequest(r)

		res, err := registry.RunOnRequestForAuth(req)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if res != nil {
			writeWorkerResponse(w, res)
			return
		}
		next(w, r)
	}
}

func toWorkerRequest(r *http.Request) *workermsg.Request {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}
	return &workermsg.Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: headers,
		Body:    body,
	}
}

func writeWorkerResponse(w http.ResponseWriter, res *workermsg.Response) {
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(res.Body)
}
