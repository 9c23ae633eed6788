package llm

import (
	"context"
	"strconv"
	"time"
	"unicode/utf8"
)

// mockReplyLimit caps the echoed prompt in mock replies, in runes.
const mockReplyLimit = 200

// MockClient answers locally by echoing the last user turn. Selected with GOGO_MODE=MOCK.
type MockClient struct{}

// NewMockClient creates a mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// CreateChatCompletion implements LLMClient.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			prompt = req.Messages[i].Content
			break
		}
	}

	return &ChatCompletionResponse{
		ID:    "mock-" + strconv.FormatInt(time.Now().UnixNano(), 36),
		Model: req.Model,
		Choices: []Choice{{
			Message:      &ChatMessage{Role: "assistant", Content: "[mock] " + clip(prompt, mockReplyLimit)},
			FinishReason: "stop",
		}},
	}, nil
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
