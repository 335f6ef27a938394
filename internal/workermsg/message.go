// Package workermsg defines the wire protocol exchanged between the
// supervisor and a single worker process.
//
// The protocol is a discriminated union over six message types: READY,
// REQUEST, RESPONSE, ERROR, IDLE, TERMINATE. Requests and responses carry a
// reqId (UUID) for correlation; messages without a reqId that are not READY
// are ignored by the fetch handler (see workerpool.Instance.dispatch).
package workermsg

// Type identifies which variant of the worker message union a Message carries.
type Type string

const (
	TypeReady     Type = "READY"
	TypeRequest   Type = "REQUEST"
	TypeResponse  Type = "RESPONSE"
	TypeError     Type = "ERROR"
	TypeIdle      Type = "IDLE"
	TypeTerminate Type = "TERMINATE"
)

// Request is the payload of a REQUEST message, sent supervisor -> worker.
type Request struct {
	Method  string            `json:"method"`
	URL     string             `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body,omitempty"`
}

// Response is the payload of a RESPONSE message, sent worker -> supervisor.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body,omitempty"`
}

// Message is the single wire type for the bidirectional worker protocol.
// Only the fields relevant to Type are populated; the rest are zero values.
type Message struct {
	Type  Type   `json:"type"`
	ReqID string `json:"reqId,omitempty"`

	Req   *Request  `json:"req,omitempty"`
	Res   *Response `json:"res,omitempty"`
	Error string    `json:"error,omitempty"`
	Stack string    `json:"stack,omitempty"`
}

// Ready builds a READY message.
func Ready() Message { return Message{Type: TypeReady} }

// NewRequest builds a REQUEST message for the given correlation id.
func NewRequest(reqID string, req Request) Message {
	return Message{Type: TypeRequest, ReqID: reqID, Req: &req}
}

// NewResponse builds a RESPONSE message for the given correlation id.
func NewResponse(reqID string, res Response) Message {
	return Message{Type: TypeResponse, ReqID: reqID, Res: &res}
}

// NewError builds an ERROR message for the given correlation id. reqID may
// be empty for worker-level errors that are not tied to any single request.
func NewError(reqID, message, stack string) Message {
	return Message{Type: TypeError, ReqID: reqID, Error: message, Stack: stack}
}

// Idle builds an IDLE message.
func Idle() Message { return Message{Type: TypeIdle} }

// Terminate builds a TERMINATE message.
func Terminate() Message { return Message{Type: TypeTerminate} }

// Correlates reports whether msg is relevant to a REQUEST-class listener
// waiting on reqID: either it's a READY message (always observed) or its
// own ReqID matches. Per spec.md §4.2, a REQUEST-class listener must ignore
// any message whose type is not READY and whose reqId does not match.
func (m Message) Correlates(reqID string) bool {
	if m.Type == TypeReady {
		return true
	}
	return m.ReqID != "" && m.ReqID == reqID
}
