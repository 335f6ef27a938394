package hrana

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/apprun/core/internal/hrana/adapter"
)

// Server glues a Pipeline to a Resolver and exposes the HRANA HTTP/
// WebSocket endpoints, per spec.md §4.4/§6. It is mounted as a plugin's
// static http.HandlerFunc routes (internal/plugin.Route), auth-wrapped the
// same as any other plugin-provided route.
type Server struct {
	Pipeline *Pipeline
	Resolver adapter.Resolver
	Log      zerolog.Logger
}

// NewServer constructs a Server over an existing SessionManager and adapter Resolver.
func NewServer(sm *SessionManager, resolver adapter.Resolver, log zerolog.Logger) *Server {
	return &Server{Pipeline: NewPipeline(sm), Resolver: resolver, Log: log}
}

// resolveAdapter implements spec.md §4.4's adapter-selection rule: headers
// x-database-adapter/x-database-namespace pick getAdapter(type, namespace)
// when namespace is present, otherwise getRootAdapter(type).
func (s *Server) resolveAdapter(adapterType, namespace string) (adapter.Adapter, error) {
	if namespace != "" {
		return s.Resolver.GetAdapter(adapterType, namespace)
	}
	return s.Resolver.GetRootAdapter(adapterType)
}

// HandlePipeline is the HTTP handler for the pipeline POST endpoint:
// decode {baton, requests[]}, run it, and answer {base_url, baton, results[]}.
func (s *Server) HandlePipeline(w http.ResponseWriter, r *http.Request) {
	var reqBody PipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		writeJSONError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed pipeline request body")
		return
	}

	adapterType := r.Header.Get("x-database-adapter")
	namespace := r.Header.Get("x-database-namespace")

	ad, err := s.resolveAdapter(adapterType, namespace)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "ADAPTER_UNAVAILABLE", err.Error())
		return
	}

	baton, results := s.Pipeline.Run(r.Context(), ad, reqBody.Baton, reqBody.Requests)

	baseURL := r.URL.Path
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(PipelineResponse{BaseURL: &baseURL, Baton: baton, Results: results})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

// marshalOrErrorFrame is used by the WebSocket bridge to encode a response
// frame, falling back to a minimal error frame if encoding itself fails.
func marshalOrErrorFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"request_id": 0, "response": map[string]any{
			"type": "error", "error": map[string]string{"code": "SQLITE_ERROR", "message": "failed to encode response"},
		}})
	}
	return data
}
