package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"framesense/backend"
	"framesense/ocr"
)

// DirectAnalyzer answers questions by calling a vision-capable
// chat-completions endpoint directly with the user's own API key,
// bypassing the backend proxy. Responses arrive in one piece; it has
// no conversation state, so the returned conversation id is always
// empty.
type DirectAnalyzer struct {
	apiKey string
	model  string
	url    string
	client *http.Client
	log    *zap.Logger
}

const defaultDirectURL = "https://openrouter.ai/api/v1/chat/completions"

// NewDirectAnalyzer constructs a DirectAnalyzer. url defaults to the
// OpenRouter chat-completions endpoint.
func NewDirectAnalyzer(apiKey, model, url string, logger *zap.Logger) *DirectAnalyzer {
	if url == "" {
		url = defaultDirectURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectAnalyzer{
		apiKey: apiKey,
		model:  model,
		url:    url,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    logger,
	}
}

type directContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *directImageURL `json:"image_url,omitempty"`
}

type directImageURL struct {
	URL string `json:"url"`
}

type directMessage struct {
	Role    string              `json:"role"`
	Content []directContentPart `json:"content"`
}

type directRequest struct {
	Model       string          `json:"model"`
	Messages    []directMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type directResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Analyze implements Analyzer.
func (d *DirectAnalyzer) Analyze(ctx context.Context, req backend.AnalyzeRequest, onChunk func(string)) (string, error) {
	if d.apiKey == "" {
		return "", errors.New("direct analyzer requires an API key")
	}

	model := req.Model
	if model == "" {
		model = d.model
	}

	parts := []directContentPart{{Type: "text", Text: req.Question}}
	if req.ImageData != "" {
		raw, err := ocr.DecodeImage(req.ImageData)
		if err != nil {
			return "", err
		}
		parts = append(parts, directContentPart{Type: "image_url", ImageURL: &directImageURL{
			URL: fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(raw)),
		}})
	}

	body, err := json.Marshal(directRequest{
		Model:       model,
		Messages:    []directMessage{{Role: "user", Content: parts}},
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("direct analyze request failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded directResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("direct analyze error: %s", decoded.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("direct analyze returned status %d", resp.StatusCode)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("no choices in direct analyze response")
	}

	d.log.Debug("direct analyze completed", zap.Int("content_len", len(decoded.Choices[0].Message.Content)))
	onChunk(decoded.Choices[0].Message.Content)
	return "", nil
}
