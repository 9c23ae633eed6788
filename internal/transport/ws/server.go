// Package ws serves the real-time chat channel over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/campusconnect/internal/config"
	"github.com/xiaot623/campusconnect/internal/conversation"
	"github.com/xiaot623/campusconnect/internal/domain"
	"github.com/xiaot623/campusconnect/internal/logging"
)

// Engine handles one inbound message.
type Engine interface {
	HandleMessage(ctx context.Context, req domain.ChatRequest) domain.ResponseEnvelope
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *Hub
	engine   Engine
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *Hub, engine Engine) *Server {
	return &Server{
		cfg:    cfg,
		hub:    h,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logging.Component("ws"),
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	_ = s.hub.SendJSONToConnection(conn, StatusMessage{
		BaseMessage: BaseMessage{Type: TypeStatus, Ts: time.Now().UnixMilli()},
		Msg:         ConnectedStatus,
	})

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump reads messages from the WebSocket connection. Leaving it performs no session
// cleanup; replies still in flight are dropped when they complete.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("connection_id", conn.ID).Msg("websocket error")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug().Err(err).Str("connection_id", conn.ID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case TypeChatMessage, "":
		s.handleChatMessage(conn, data)
	default:
		s.sendError(conn, base.RequestID, ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

// handleChatMessage runs the engine for one message without blocking the read loop.
func (s *Server) handleChatMessage(conn *Connection, data []byte) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid chat_message")
		return
	}
	if strings.TrimSpace(msg.Message) == "" {
		s.sendError(conn, msg.RequestID, ErrorCodeEmptyMessage, "message is required")
		return
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = s.hub.SessionOf(conn)
	}
	lang := msg.Language
	if lang == "" {
		lang = domain.LanguageAuto
	}
	req := domain.ChatRequest{
		Message:   msg.Message,
		Language:  lang,
		SessionID: sessionID,
		UserID:    msg.UserID,
	}

	go func() {
		ctx := conversation.WithTransport(context.Background(), "ws")
		ctx = conversation.WithOrigin(ctx, conn.ID)
		env := s.engine.HandleMessage(ctx, req)

		s.hub.BindSession(conn, env.SessionID)
		if err := s.hub.SendJSONToConnection(conn, NewChatResponse(msg.RequestID, env)); err != nil {
			s.logger.Debug().Err(err).Str("connection_id", conn.ID).Str("session_id", env.SessionID).Msg("reply not delivered")
		}
	}()
}

// ForwardEvents fans lifecycle events out to the connections bound to each event's
// session, skipping the connection the event originated from. It returns when events
// is closed or ctx is done.
func (s *Server) ForwardEvents(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.SessionID == "" || !s.hub.HasActiveConnections(ev.SessionID) {
				continue
			}
			origin, _ := ev.Payload["origin"].(string)
			out := SessionEventMessage{
				BaseMessage: BaseMessage{Type: TypeSessionEvent, Ts: ev.Ts, SessionID: ev.SessionID},
				Event:       ev,
			}
			if err := s.hub.BroadcastJSON(ev.SessionID, out, origin); err != nil {
				s.logger.Warn().Err(err).Str("session_id", ev.SessionID).Msg("failed to forward event")
			}
		}
	}
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, requestID, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      TypeError,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			SessionID: s.hub.SessionOf(conn),
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}
