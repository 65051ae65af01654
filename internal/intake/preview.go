package intake

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// DefaultPreviewMaxEdge bounds the longest edge of rendered previews.
const DefaultPreviewMaxEdge = 1024

// RenderPreview encodes img as PNG, downscaling it so that neither edge
// exceeds maxEdge. A maxEdge of zero keeps the original size.
func RenderPreview(img image.Image, maxEdge int) ([]byte, error) {
	src := img
	b := img.Bounds()
	if maxEdge > 0 && (b.Dx() > maxEdge || b.Dy() > maxEdge) {
		w, h := fitWithin(b.Dx(), b.Dy(), maxEdge)
		var dst draw.Image
		if _, gray := img.(*image.Gray); gray {
			dst = image.NewGray(image.Rect(0, 0, w, h))
		} else {
			dst = image.NewRGBA(image.Rect(0, 0, w, h))
		}
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fitWithin(w, h, maxEdge int) (int, int) {
	if w >= h {
		nh := h * maxEdge / w
		if nh < 1 {
			nh = 1
		}
		return maxEdge, nh
	}
	nw := w * maxEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxEdge
}
