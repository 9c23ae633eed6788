// Package llm talks to OpenAI-compatible chat completion backends.
package llm

import "context"

// LLMClient produces chat completions.
type LLMClient interface {
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)
}

var (
	_ LLMClient = (*Client)(nil)
	_ LLMClient = (*MockClient)(nil)
)
