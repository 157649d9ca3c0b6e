package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// AnalyzeRequest carries one AI question: the user text (already
// annotated with OCR context by the pipeline), the optional captured
// image, the conversation id when a multi-turn exchange exists, and
// the selected model.
type AnalyzeRequest struct {
	Question       string
	ConversationID string
	Model          string
	ImageData      string // base64 PNG, optional data-URL prefix
}

// streamEvent is the structured frame of the analyze stream. Frames
// with type "usage" are accounting markers and contribute no visible
// content; "done" carries the conversation id and ends the stream.
type streamEvent struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

type analyzeResponse struct {
	Success        bool   `json:"success"`
	Response       string `json:"response"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Analyze submits the request and renders the response through
// onChunk. When the backend streams, onChunk fires per decoded content
// frame in arrival order; otherwise the full response arrives as a
// single onChunk call. Returns the conversation id when the backend
// supplied one.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest, onChunk func(text string)) (string, error) {
	resp, err := c.WithRefresh(ctx, func(ctx context.Context) (*http.Response, error) {
		return c.postAnalyze(ctx, req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("analyze returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return c.consumeStream(resp.Body, onChunk)
	}

	// Non-streaming fallback: await the full response and render it in
	// one update.
	var full analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&full); err != nil {
		return "", fmt.Errorf("analyze parse: %w", err)
	}
	if !full.Success {
		if full.Message != "" {
			return "", fmt.Errorf("analyze failed: %s", full.Message)
		}
		return "", fmt.Errorf("analyze failed")
	}
	if full.Response != "" {
		onChunk(full.Response)
	}
	return full.ConversationID, nil
}

// consumeStream decodes "data: <json>" frames, applying content text
// strictly in arrival order. Usage frames are skipped; unparsable
// frames are dropped rather than aborting an otherwise healthy stream.
func (c *Client) consumeStream(body io.Reader, onChunk func(text string)) (string, error) {
	conversationID := ""
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.log.Debug("dropping unparsable stream frame", zap.String("frame", data))
			continue
		}

		switch ev.Type {
		case "content":
			if ev.Text != "" {
				onChunk(ev.Text)
			}
		case "usage":
			// Out-of-band accounting marker: zero visible characters.
		case "done":
			if ev.ConversationID != "" {
				conversationID = ev.ConversationID
			}
			return conversationID, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return conversationID, fmt.Errorf("analyze stream read: %w", err)
	}
	return conversationID, nil
}

// postAnalyze builds the multipart request from scratch on every call
// so a WithRefresh retry re-creates the consumed body.
func (c *Client) postAnalyze(ctx context.Context, ar AnalyzeRequest) (*http.Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("question", ar.Question); err != nil {
		return nil, err
	}
	if ar.ConversationID != "" {
		if err := w.WriteField("conversationId", ar.ConversationID); err != nil {
			return nil, err
		}
	}
	if err := w.WriteField("model", ar.Model); err != nil {
		return nil, err
	}
	if ar.ImageData != "" {
		raw, err := decodeImagePayload(ar.ImageData)
		if err != nil {
			return nil, fmt.Errorf("invalid image payload: %w", err)
		}
		part, err := w.CreateFormFile("image", "capture.png")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(raw); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)
	return c.http.Do(req)
}

func decodeImagePayload(imageData string) ([]byte, error) {
	payload := imageData
	if strings.HasPrefix(payload, "data:image") {
		if idx := strings.IndexByte(payload, ','); idx >= 0 {
			payload = payload[idx+1:]
		}
	}
	return base64.StdEncoding.DecodeString(payload)
}
