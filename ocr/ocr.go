package ocr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/png"
	"strings"
)

// MinDimension is the smallest width/height (pixels) an image may have
// and still be worth extracting text from.
const MinDimension = 10

// Result is the outcome of a text extraction.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	HasText    bool    `json:"has_text"`
}

// DecodeImage strips an optional data-URL prefix, base64-decodes the
// payload, and validates that the image is large enough for OCR.
func DecodeImage(imageData string) ([]byte, error) {
	payload := imageData
	if strings.HasPrefix(payload, "data:image") {
		if idx := strings.IndexByte(payload, ','); idx >= 0 {
			payload = payload[idx+1:]
		}
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	if cfg.Width < MinDimension || cfg.Height < MinDimension {
		return nil, fmt.Errorf("image too small for OCR: %dx%d pixels", cfg.Width, cfg.Height)
	}

	return raw, nil
}
