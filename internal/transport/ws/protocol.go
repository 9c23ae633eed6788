package ws

import (
	"time"

	"github.com/xiaot623/campusconnect/internal/domain"
)

// Message types from client to server
const (
	TypeChatMessage = "chat_message"
)

// Message types from server to client
const (
	TypeStatus       = "status"
	TypeChatResponse = "chat_response"
	TypeSessionEvent = "session_event"
	TypeError        = "error"
)

// ConnectedStatus is the status text sent when a connection opens.
const ConnectedStatus = "Connected to chatbot server"

// Error codes
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeEmptyMessage   = "empty_message"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatMessage is sent by the client with one utterance.
type ChatMessage struct {
	BaseMessage
	Message  string `json:"message"`
	Language string `json:"language,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// StatusMessage reports connection state.
type StatusMessage struct {
	BaseMessage
	Msg string `json:"msg"`
}

// ChatResponseMessage answers one ChatMessage.
type ChatResponseMessage struct {
	Type         string    `json:"type"`
	RequestID    string    `json:"request_id,omitempty"`
	Reply        string    `json:"reply"`
	SessionID    string    `json:"session_id"`
	Language     string    `json:"language"`
	ResponseTime float64   `json:"response_time"` // seconds
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

// NewChatResponse builds the wire form of env.
func NewChatResponse(requestID string, env domain.ResponseEnvelope) ChatResponseMessage {
	return ChatResponseMessage{
		Type:         TypeChatResponse,
		RequestID:    requestID,
		Reply:        env.Reply,
		SessionID:    env.SessionID,
		Language:     env.Language,
		ResponseTime: env.ResponseTime,
		Timestamp:    env.Timestamp,
		Error:        env.Error,
	}
}

// SessionEventMessage forwards a lifecycle event of the bound session.
type SessionEventMessage struct {
	BaseMessage
	Event domain.Event `json:"event"`
}

// ErrorMessage is sent when a client message cannot be processed.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}
