package domain

import "time"

// ChatRequest is one inbound message, independent of the transport it arrived on.
type ChatRequest struct {
	Message   string `json:"message"`
	Language  string `json:"language,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// ResponseEnvelope is the outcome of handling one inbound message.
type ResponseEnvelope struct {
	Reply        string    `json:"reply"`
	Language     string    `json:"language"`
	SessionID    string    `json:"session_id"`
	Timestamp    time.Time `json:"timestamp"`
	ResponseTime float64   `json:"response_time,omitempty"` // seconds
	Error        string    `json:"error,omitempty"`
}

// Event is a session lifecycle event published on the event bus.
type Event struct {
	EventID   string         `json:"event_id"`
	SessionID string         `json:"session_id"`
	Ts        int64          `json:"ts"` // Unix milliseconds
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}
