// Package responder produces reply text for a normalized inbound message.
package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/xiaot623/campusconnect/internal/adapter/llm"
	"github.com/xiaot623/campusconnect/internal/config"
	"github.com/xiaot623/campusconnect/internal/domain"
)

// Responder generates a reply in the default language.
type Responder interface {
	Generate(ctx context.Context, normalized string) (string, error)
}

// EchoResponder acknowledges the message verbatim.
type EchoResponder struct{}

// Generate implements Responder.
func (EchoResponder) Generate(ctx context.Context, normalized string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(domain.ErrResponderFailure, err.Error())
	}
	return fmt.Sprintf("Hello! I received: %s", normalized), nil
}

const defaultSystemPrompt = "You are a helpful campus assistant. Answer briefly in English."

// LLMResponder asks a chat completion model for the reply.
type LLMResponder struct {
	client       llm.LLMClient
	model        string
	systemPrompt string
}

// NewLLMResponder creates a responder backed by client.
func NewLLMResponder(client llm.LLMClient, model string) *LLMResponder {
	return &LLMResponder{
		client:       client,
		model:        model,
		systemPrompt: defaultSystemPrompt,
	}
}

// Generate implements Responder.
func (r *LLMResponder) Generate(ctx context.Context, normalized string) (string, error) {
	resp, err := r.client.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: r.model,
		Messages: []llm.ChatMessage{
			{Role: "system", Content: r.systemPrompt},
			{Role: "user", Content: normalized},
		},
	})
	if err != nil {
		return "", errors.Wrap(domain.ErrResponderFailure, err.Error())
	}
	reply := strings.TrimSpace(resp.Content())
	if reply == "" {
		return "", errors.Wrap(domain.ErrResponderFailure, "empty completion")
	}
	return reply, nil
}

// NewFromConfig builds the responder selected by cfg.Responder.
func NewFromConfig(cfg *config.Config) (Responder, error) {
	switch cfg.Responder {
	case "", "echo":
		return EchoResponder{}, nil
	case "llm":
		timeout := cfg.ResponseTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client := llm.NewLLMClient(cfg.LLMURL, cfg.LLMAPIKey, timeout)
		return NewLLMResponder(client, cfg.LLMModel), nil
	default:
		return nil, errors.Errorf("unknown responder %q", cfg.Responder)
	}
}
