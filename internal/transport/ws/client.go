package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Frame is one decoded server message. Exactly one of the typed fields is set, matching Type.
type Frame struct {
	Type     string
	Status   *StatusMessage
	Response *ChatResponseMessage
	Event    *SessionEventMessage
	Error    *ErrorMessage
}

// Client is a websocket client for the chat endpoint.
type Client struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	mu        sync.RWMutex
	sessionID string
	language  string
}

// Dial connects to addr and waits for the connected status message.
func Dial(ctx context.Context, addr, language string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	c := &Client{conn: conn, language: language}

	frame, err := c.Read()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read status: %w", err)
	}
	if frame.Type != TypeStatus {
		conn.Close()
		return nil, fmt.Errorf("expected status, got: %s", frame.Type)
	}
	return c, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// SessionID returns the session the client is bound to, if any.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Send sends one utterance on the current session and returns its request id.
func (c *Client) Send(text string) (string, error) {
	requestID := uuid.New().String()
	msg := ChatMessage{
		BaseMessage: BaseMessage{
			Type:      TypeChatMessage,
			Ts:        time.Now().UnixMilli(),
			RequestID: requestID,
			SessionID: c.SessionID(),
		},
		Message:  text,
		Language: c.language,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return "", errors.Wrap(err, "write chat_message")
	}
	return requestID, nil
}

// Read blocks for the next server message. A chat_response rebinds the client to the
// session the server actually used.
func (c *Client) Read() (*Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, errors.Wrap(err, "unmarshal message")
	}

	frame := &Frame{Type: base.Type}
	switch base.Type {
	case TypeStatus:
		frame.Status = &StatusMessage{}
		err = json.Unmarshal(data, frame.Status)
	case TypeChatResponse:
		frame.Response = &ChatResponseMessage{}
		if err = json.Unmarshal(data, frame.Response); err == nil && frame.Response.SessionID != "" {
			c.mu.Lock()
			c.sessionID = frame.Response.SessionID
			c.mu.Unlock()
		}
	case TypeSessionEvent:
		frame.Event = &SessionEventMessage{}
		err = json.Unmarshal(data, frame.Event)
	case TypeError:
		frame.Error = &ErrorMessage{}
		err = json.Unmarshal(data, frame.Error)
	default:
		return nil, errors.Errorf("unknown message type %q", base.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshal %s", base.Type)
	}
	return frame, nil
}
