// images.go - Encoded test images
package testutil

import (
	"bytes"
	"image"
	"image/png"
)

// PNG returns a w×h grayscale PNG.
func PNG(w, h int) []byte {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
