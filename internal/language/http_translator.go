package language

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HTTPTranslator calls a LibreTranslate-compatible translation service.
type HTTPTranslator struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPTranslator creates a translator client for baseURL.
func NewHTTPTranslator(baseURL, apiKey string, timeout time.Duration) *HTTPTranslator {
	return &HTTPTranslator{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// TranslateRequest is the request body of POST /translate.
type TranslateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

// TranslateResponse is the response body of POST /translate.
type TranslateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

// Translate implements Translator.
func (t *HTTPTranslator) Translate(ctx context.Context, text, target, source string) (string, error) {
	if source == "" {
		source = "auto"
	}

	body, err := json.Marshal(TranslateRequest{
		Q:      text,
		Source: source,
		Target: target,
		Format: "text",
		APIKey: t.apiKey,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read response")
	}

	var result TranslateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", errors.Errorf("translate API error [%d]: %s", resp.StatusCode, string(respBody))
		}
		return "", errors.Wrap(err, "failed to unmarshal response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("translate API error [%d]: %s", resp.StatusCode, result.Error)
	}
	return result.TranslatedText, nil
}
