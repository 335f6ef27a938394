package hrana

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrameIn is one inbound WebSocket frame of spec.md §4.4's WebSocket
// bridge: a single pipelined request tagged with a client-chosen request_id.
type wsFrameIn struct {
	RequestID json.Number   `json:"request_id"`
	Request   StreamRequest `json:"request"`
}

// wsFrameOut is the matching outbound frame.
type wsFrameOut struct {
	RequestID json.Number    `json:"request_id"`
	Response  ResultEnvelope `json:"response"`
}

// HandleWebSocket implements spec.md §4.4's WebSocket bridge: each
// connection carries {adapterType, namespace, baton} via query parameters,
// each client frame is wrapped as a single-request pipeline, dispatched,
// and answered with the matching request_id. Parse errors and server
// faults synthesize {request_id: 0, response: {type: error, ...}}.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("hrana websocket upgrade failed")
		return
	}
	defer conn.Close()

	q := r.URL.Query()
	adapterType := q.Get("adapterType")
	namespace := q.Get("namespace")

	ad, err := s.resolveAdapter(adapterType, namespace)
	if err != nil {
		s.writeFault(conn, err)
		return
	}

	var baton *string
	if b := q.Get("baton"); b != "" {
		baton = &b
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame wsFrameIn
		if err := json.Unmarshal(data, &frame); err != nil {
			s.writeFault(conn, err)
			continue
		}

		newBaton, results := s.Pipeline.Run(r.Context(), ad, baton, []StreamRequest{frame.Request})
		baton = newBaton

		out := wsFrameOut{RequestID: frame.RequestID, Response: results[0]}
		if err := conn.WriteMessage(websocket.TextMessage, marshalOrErrorFrame(out)); err != nil {
			return
		}
	}
}

func (s *Server) writeFault(conn *websocket.Conn, cause error) {
	e := MapError(cause)
	out := struct {
		RequestID int           `json:"request_id"`
		Response  ResultEnvelope `json:"response"`
	}{RequestID: 0, Response: errEnvelope(e)}
	_ = conn.WriteMessage(websocket.TextMessage, marshalOrErrorFrame(out))
}
