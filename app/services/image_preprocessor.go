package services

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrUnsupportedImage = errors.New("unsupported or corrupt image")

// DefaultMaxImageEdge bounds the longest edge sent to the vision model
const DefaultMaxImageEdge = 1024

// PreparedImage is an image ready for the vision model
type PreparedImage struct {
	Data   []byte
	Mime   string
	Width  int
	Height int
	Format string
}

// ImagePreprocessor normalizes captures before decode: any supported format
// in, PNG out, longest edge at most MaxEdge
type ImagePreprocessor struct {
	MaxEdge int
}

func NewImagePreprocessor(maxEdge int) *ImagePreprocessor {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxImageEdge
	}
	return &ImagePreprocessor{MaxEdge: maxEdge}
}

// Prepare decodes raw, scales it down with Catmull-Rom when it is larger than
// MaxEdge and re-encodes it as PNG. Smaller images are never upscaled.
func (p *ImagePreprocessor) Prepare(raw []byte) (*PreparedImage, error) {
	if len(raw) == 0 {
		return nil, ErrUnsupportedImage
	}
	src, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	b := src.Bounds()
	w, h := scaledSize(b.Dx(), b.Dy(), p.MaxEdge)
	out := src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return &PreparedImage{Data: buf.Bytes(), Mime: "image/png", Width: w, Height: h, Format: format}, nil
}

func scaledSize(w, h, maxEdge int) (int, int) {
	if w <= maxEdge && h <= maxEdge {
		return w, h
	}
	if w >= h {
		return maxEdge, max(1, h*maxEdge/w)
	}
	return max(1, w*maxEdge/h), maxEdge
}
