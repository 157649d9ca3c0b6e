package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// iconData is a generated 16x16 PNG: a dashed selection frame on a
// transparent background. Hosts that require ICO show a blank entry
// instead of failing startup.
var iconData = buildIcon()

func buildIcon() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	frame := color.RGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
	for i := 2; i < 14; i++ {
		if i%3 != 0 {
			img.SetRGBA(i, 2, frame)
			img.SetRGBA(i, 13, frame)
			img.SetRGBA(2, i, frame)
			img.SetRGBA(13, i, frame)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
