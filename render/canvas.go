package render

import (
	"bytes"
	"image"
	"image/png"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/abihf/cinecap/filter"
)

const MIMEPNG = "image/png"

var ErrUnsupportedMIME = errors.New("unsupported image type")

// Canvas is an in-memory RGBA surface.
type Canvas struct {
	img   *image.RGBA
	op    string
	chain filter.Chain

	// Scaler resamples frames that do not match the draw size.
	Scaler draw.Scaler
}

func NewCanvas(width, height int) *Canvas {
	c := &Canvas{Scaler: draw.ApproxBiLinear}
	c.Resize(width, height)
	return c
}

// Resize keeps the pixel buffer when the size is unchanged.
func (c *Canvas) Resize(width, height int) {
	width, height = max(width, 0), max(height, 0)
	if c.img != nil && c.img.Rect.Dx() == width && c.img.Rect.Dy() == height {
		return
	}
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

func (c *Canvas) Size() image.Point {
	if c.img == nil {
		return image.Point{}
	}
	return c.img.Rect.Size()
}

func (c *Canvas) SetCompositeOperation(op string) error {
	chain, err := filter.Parse(op)
	if err != nil {
		return errors.Wrap(err, "set composite operation")
	}
	c.op, c.chain = op, chain
	return nil
}

func (c *Canvas) CompositeOperation() string {
	if c.op == "" {
		return filter.None
	}
	return c.op
}

// DrawFrame scales frame into the given rectangle and grades the result. A
// frame that already has the target size is copied pixel for pixel.
func (c *Canvas) DrawFrame(frame image.Image, x, y, width, height int) error {
	if frame == nil {
		return errors.New("draw frame: no frame")
	}
	if c.img == nil {
		c.Resize(0, 0)
	}
	dr := image.Rect(x, y, x+width, y+height)
	if dr.Empty() || dr.Intersect(c.img.Rect).Empty() {
		return nil
	}

	sr := frame.Bounds()
	if sr.Dx() == width && sr.Dy() == height {
		draw.Copy(c.img, dr.Min, frame, sr, draw.Src, nil)
	} else {
		scaler := c.Scaler
		if scaler == nil {
			scaler = draw.ApproxBiLinear
		}
		scaler.Scale(c.img, dr, frame, sr, draw.Src, nil)
	}
	c.chain.Apply(c.img, dr)
	return nil
}

// Image exposes the backing raster. It is overwritten by the next draw.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// ToEncodedImage encodes the whole canvas. Only PNG is supported.
func (c *Canvas) ToEncodedImage(mime string) ([]byte, error) {
	if mime != MIMEPNG {
		return nil, errors.Wrapf(ErrUnsupportedMIME, "encode %q", mime)
	}
	if c.img == nil || c.img.Rect.Empty() {
		return nil, errors.New("encode: empty canvas")
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, c.img); err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	return buf.Bytes(), nil
}
