package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL+"/", "", 0).CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "m"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit", apiErr.Type)
	assert.Equal(t, "llm api error [429]: slow down (type: rate_limit)", err.Error())
}

func TestClientPlainError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", 0).CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "m"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestMockClient(t *testing.T) {
	resp, err := NewMockClient().CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model: "m",
		Messages: []ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: strings.Repeat("ä", 250)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "[mock] "+strings.Repeat("ä", 200)+"...", resp.Content())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMockClient().CreateChatCompletion(ctx, &ChatCompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContentOfEmptyResponse(t *testing.T) {
	var resp *ChatCompletionResponse
	assert.Empty(t, resp.Content())
	assert.Empty(t, (&ChatCompletionResponse{Choices: []Choice{{}}}).Content())
}
