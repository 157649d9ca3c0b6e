package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/kbinani/screenshot"

	"framesense/messages"
)

// CaptureRegion captures a screen region and returns it as PNG bytes.
func CaptureRegion(bounds messages.Bounds) ([]byte, error) {
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return nil, fmt.Errorf("invalid region dimensions: width=%d, height=%d", bounds.Width, bounds.Height)
	}

	rect := image.Rect(bounds.X, bounds.Y, bounds.X+bounds.Width, bounds.Y+bounds.Height)
	img, err := screenshot.CaptureRect(rect)
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// PrimaryDisplayBounds returns the bounds of the primary display.
func PrimaryDisplayBounds() (messages.Bounds, error) {
	if screenshot.NumActiveDisplays() == 0 {
		return messages.Bounds{}, fmt.Errorf("no active displays found")
	}
	b := screenshot.GetDisplayBounds(0)
	return messages.Bounds{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()}, nil
}
