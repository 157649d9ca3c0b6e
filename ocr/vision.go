package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Engine extracts text from a captured image. imageData is a base64
// PNG, optionally carrying a data-URL prefix.
type Engine interface {
	Extract(ctx context.Context, imageData string) (Result, error)
}

const (
	defaultVisionURL = "https://openrouter.ai/api/v1/chat/completions"
	maxRetries       = 3
	initialDelay     = 1 * time.Second

	ocrPrompt = "Perform OCR on this image. Return ONLY the raw extracted text with:\n" +
		"- No formatting\n" +
		"- No XML/HTML tags\n" +
		"- No markdown\n" +
		"- No explanations\n" +
		"- Preserve line breaks accurately from the visual layout.\n" +
		"If no text found, return 'NO_TEXT_FOUND'"
)

// Vision API structures (chat-completions with image content parts).
type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"` // string or number depending on provider
}

// VisionConfig configures a VisionEngine.
type VisionConfig struct {
	APIKey string
	Model  string
	URL    string // defaults to the OpenRouter chat-completions endpoint
}

// VisionEngine performs OCR by sending the image to a vision-capable
// chat model.
type VisionEngine struct {
	cfg    VisionConfig
	client *http.Client
	log    *zap.Logger
}

// NewVisionEngine constructs a VisionEngine. APIKey and Model are
// validated at call time so a partially-configured engine degrades to
// an error, not a panic.
func NewVisionEngine(cfg VisionConfig, logger *zap.Logger) *VisionEngine {
	if cfg.URL == "" {
		cfg.URL = defaultVisionURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisionEngine{
		cfg:    cfg,
		client: &http.Client{Timeout: 45 * time.Second},
		log:    logger,
	}
}

// Extract runs OCR on the image and never returns partial results: a
// failed attempt after retries yields a zero Result and an error.
func (e *VisionEngine) Extract(ctx context.Context, imageData string) (Result, error) {
	if e.cfg.APIKey == "" {
		return Result{}, errors.New("vision API key is required")
	}
	if e.cfg.Model == "" {
		return Result{}, errors.New("vision model is required")
	}

	raw, err := DecodeImage(imageData)
	if err != nil {
		return Result{}, err
	}

	request := chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: ocrPrompt},
					{Type: "image_url", ImageURL: &imageURL{
						URL: fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(raw)),
					}},
				},
			},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(initialDelay) * (1.5 * float64(attempt)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		}

		text, err := e.request(ctx, request)
		if err != nil {
			lastErr = err
			e.log.Debug("vision OCR attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		text = strings.TrimSpace(cleanExtractedText(text))
		if text == "" || text == "NO_TEXT_FOUND" {
			return Result{Text: "", Confidence: 0, HasText: false}, nil
		}
		// Vision models report no per-character confidence; use a fixed
		// heuristic for non-empty extractions.
		return Result{Text: text, Confidence: 0.9, HasText: true}, nil
	}

	return Result{}, fmt.Errorf("OCR failed after %d attempts: %w", maxRetries, lastErr)
}

func (e *VisionEngine) request(ctx context.Context, request chatRequest) (string, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	var response chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("vision API error: %s (type: %s, code: %v)",
			response.Error.Message, response.Error.Type, response.Error.Code)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision API returned status %d", resp.StatusCode)
	}
	if len(response.Choices) == 0 {
		return "", errors.New("no choices in vision API response")
	}
	return response.Choices[0].Message.Content, nil
}

// cleanExtractedText drops stray image-tag artifacts some providers
// append to OCR output.
func cleanExtractedText(text string) string {
	if text == "</image>" {
		return ""
	}
	return strings.TrimSuffix(text, "</image>")
}
