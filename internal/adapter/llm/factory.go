package llm

import (
	"os"
	"time"

	"github.com/xiaot623/campusconnect/internal/logging"
)

// GOGO_MODE=MOCK swaps the real client for MockClient.
const (
	EnvMode  = "GOGO_MODE"
	ModeMock = "MOCK"
)

// NewLLMClient returns a MockClient when GOGO_MODE=MOCK and a Client for baseURL otherwise.
func NewLLMClient(baseURL, apiKey string, timeout time.Duration) LLMClient {
	if os.Getenv(EnvMode) == ModeMock {
		logger := logging.Component("llm")
		logger.Info().Msg("mock mode enabled, replies are generated locally")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
