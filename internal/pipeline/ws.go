package pipeline

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/apprun/core/internal/plugin"
)

// upgrader mirrors the teacher's internal/websocket.Hub upgrade
// configuration; origin checking is left to the plugins sitting behind
// the composed handler (e.g. the auth plugin), not the transport layer.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts *websocket.Conn to plugin.WSConn and serializes writes,
// since a gorilla/websocket connection permits only one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

// handleWebSocketUpgrade implements spec.md §4.3's composed WebSocket
// handler: bypass the worker pool entirely and dispatch to every plugin
// that opted into WebSocket() via plugin.WebSocketProvider, fanning each
// inbound frame out to every composed handler's OnMessage.
func (p *Pipeline) handleWebSocketUpgrade(c *gin.Context) {
	handlers := p.Registry.WebSocketHandlers()
	if len(handlers) == 0 {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	wc := &wsConn{conn: conn}
	ctx := plugin.NewContext("pipeline", nil, plugin.RuntimeInfo{APIPrefix: p.Config.APIPrefix}, p.Log, p.Pool, p.Registry).
		WithShared(p.Registry.Scheduler, p.Registry.Events)

	for _, h := range handlers {
		h.OnOpen(ctx, wc)
	}
	defer func() {
		for _, h := range handlers {
			h.OnClose(ctx, wc)
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		for _, h := range handlers {
			h.OnMessage(ctx, wc, data)
		}
	}
}
