// Package domain defines the core domain models for the conversation backend.
package domain

// MessageType identifies who authored a message.
type MessageType string

const (
	MessageTypeUser MessageType = "user"
	MessageTypeBot  MessageType = "bot"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageTypeUser || t == MessageTypeBot
}

// EventType represents the type of a session lifecycle event.
type EventType string

const (
	EventTypeSessionCreated  EventType = "session_created"
	EventTypeMessageAppended EventType = "message_appended"
	EventTypeChatResponse    EventType = "chat_response"
)

// LanguageAuto asks the engine to detect the language instead of trusting the caller.
const LanguageAuto = "auto"

// DefaultLanguage is the fallback for unsupported or inconclusive detection, and the
// language responses are generated in.
const DefaultLanguage = "en"

// DegradedReply is returned to the user when response generation or translation fails.
const DegradedReply = "Sorry, I encountered an error processing your message."
