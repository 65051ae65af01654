package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pneumoai/backend/internal/logging"
	"github.com/pneumoai/backend/internal/models"
)

// WebSocket message types for the progress protocol
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeState     = "state"
	MsgTypeProgress  = "progress"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const wsWriteTimeout = 5 * time.Second

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes session progress to connected clients
type WebSocketHandler struct {
	sessionMgr SessionManager
	upgrader   websocket.Upgrader
	interval   time.Duration
	log        zerolog.Logger
}

// NewWebSocketHandler creates a new WebSocket progress handler
func NewWebSocketHandler(sessionMgr SessionManager, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Origins are enforced by the CORS configuration
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		interval: progressInterval,
		log:      logging.Component(logger, "websocket"),
	}
}

// wsConn serializes writes from the push loop and the ping responder.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msgType, id string, payload interface{}) error {
	msg := WSMessage{Type: msgType, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		msg.Payload = mustJSON(payload)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(msg)
}

// HandleWebSocket upgrades the connection and pushes a message whenever the
// session's step, status or progress changes. The connection stays open
// across analyses until the client leaves or the session is gone.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	sess, err := wsh.sessionMgr.GetSession(id)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn := &wsConn{ws: ws}
	log := wsh.log.With().Str("session", logging.ShortID(id)).Logger()
	log.Debug().Msg("client connected")

	if err := conn.send(MsgTypeConnected, id, newProgressEvent(sess)); err != nil {
		return nil
	}

	done := make(chan struct{})
	go wsh.readLoop(conn, id, log, done)

	ticker := time.NewTicker(wsh.interval)
	defer ticker.Stop()

	last := newProgressEvent(sess)
	for {
		select {
		case <-done:
			log.Debug().Msg("client disconnected")
			return nil

		case <-ticker.C:
			sess, err := wsh.sessionMgr.GetSession(id)
			if err != nil {
				_ = conn.send(MsgTypeError, id, WSErrorResponse{Message: "Session not found.", Code: CodeNotFound})
				return nil
			}

			event := newProgressEvent(sess)
			if !event.changedFrom(last) {
				continue
			}
			last = event
			if err := conn.send(messageTypeFor(event), id, event); err != nil {
				log.Debug().Err(err).Msg("send failed")
				return nil
			}
		}
	}
}

// readLoop answers pings and closes done when the client goes away.
func (wsh *WebSocketHandler) readLoop(conn *wsConn, id string, log zerolog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		var msg WSMessage
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("connection error")
			}
			return
		}

		switch msg.Type {
		case MsgTypePing:
			if err := conn.send(MsgTypePong, id, nil); err != nil {
				return
			}
		default:
			_ = conn.send(MsgTypeError, id, WSErrorResponse{Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"})
		}
	}
}

func (e progressEvent) changedFrom(prev progressEvent) bool {
	return e.Step != prev.Step ||
		e.Status != prev.Status ||
		e.Progress != prev.Progress ||
		e.Error != prev.Error
}

func messageTypeFor(e progressEvent) string {
	switch e.Status {
	case models.AnalysisRunning:
		return MsgTypeProgress
	case models.AnalysisComplete:
		return MsgTypeComplete
	case models.AnalysisError:
		return MsgTypeError
	default:
		return MsgTypeState
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return data
}
