package domain

import (
	"time"
)

// Session represents a durable conversation thread.
type Session struct {
	SessionID    string         `json:"session_id" yaml:"session_id"`
	UserID       string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at" yaml:"created_at"`
	LastActivity *time.Time     `json:"last_activity,omitempty" yaml:"last_activity,omitempty"`
	Messages     []Message      `json:"messages" yaml:"messages"`
	Context      map[string]any `json:"context" yaml:"context"`
	Active       bool           `json:"active" yaml:"active"`
}

// Message represents a single user or bot utterance within a session.
type Message struct {
	Content   string      `json:"content" yaml:"content"`
	Type      MessageType `json:"type" yaml:"type"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	Intent    string      `json:"intent,omitempty" yaml:"intent,omitempty"`
	Language  string      `json:"language,omitempty" yaml:"language,omitempty"`
}

// SessionSummary is a lightweight listing view of a session.
type SessionSummary struct {
	SessionID    string     `json:"session_id"`
	UserID       string     `json:"user_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
	MessageCount int        `json:"message_count"`
	Active       bool       `json:"active"`
}

// Clone returns a deep copy so callers can never mutate store-owned state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.LastActivity != nil {
		t := *s.LastActivity
		out.LastActivity = &t
	}
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.Context = make(map[string]any, len(s.Context))
	for k, v := range s.Context {
		out.Context[k] = v
	}
	return &out
}

// Summary builds the listing view of the session.
func (s *Session) Summary() SessionSummary {
	sum := SessionSummary{
		SessionID:    s.SessionID,
		UserID:       s.UserID,
		CreatedAt:    s.CreatedAt,
		MessageCount: len(s.Messages),
		Active:       s.Active,
	}
	if s.LastActivity != nil {
		t := *s.LastActivity
		sum.LastActivity = &t
	}
	return sum
}
