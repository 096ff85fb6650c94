package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"verichat/internal/hub"
	"verichat/internal/logger"
	"verichat/internal/middleware"
	"verichat/internal/session"
)

// EventsTopic is the hub topic carrying state and gate events.
const EventsTopic = "session"

type WebSocketHandler struct {
	Hub     *hub.Hub
	Machine *session.Machine
	Origins *middleware.OriginMatcher
	Logger  *zap.Logger
}

type clientMessage struct {
	Type string `json:"type"`
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

func (h *WebSocketHandler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || h.Origins == nil || h.Origins.Allowed(origin)
		},
	}
}

const (
	wsPongWait   = 60 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 64 << 10
)

// Serve streams {"type":"state"} and {"type":"gate"} events. The current state
// is sent first so a client never waits for the next transition.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	log := logger.From(c.Request.Context(), h.Logger)

	ws, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	writer := &wsWriter{conn: ws}
	conn := &hub.Connection{Topic: EventsTopic, Writer: writer}
	h.Hub.Register(conn)
	done := make(chan struct{})
	defer func() {
		close(done)
		h.Hub.Unregister(conn)
		_ = ws.Close()
	}()

	h.sendState(writer)
	go keepAlive(ws, done)

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				continue
			}
			log.Debug("websocket closed", zap.Error(err))
			return
		}
		switch msg.Type {
		case "ping":
			out, _ := json.Marshal(hub.Event{Type: "pong"})
			_ = writer.Write(out)
		case "state":
			h.sendState(writer)
		}
	}
}

func (h *WebSocketHandler) sendState(w *wsWriter) {
	out, err := json.Marshal(hub.Event{Type: "state", Data: h.Machine.State().View()})
	if err != nil {
		return
	}
	_ = w.Write(out)
}

// keepAlive pings until done is closed or a ping fails.
func keepAlive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
