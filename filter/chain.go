package filter

import (
	"image"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// None is the operation string of the identity grade.
const None = "none"

// minBandRows keeps small rasters on a single goroutine.
const minBandRows = 64

// stage is an affine color transform on normalized RGB. Results are clamped
// to [0,1] after every stage.
type stage struct {
	m   [3][3]float32
	off [3]float32
}

func (s *stage) apply(r, g, b float32) (float32, float32, float32) {
	nr := s.m[0][0]*r + s.m[0][1]*g + s.m[0][2]*b + s.off[0]
	ng := s.m[1][0]*r + s.m[1][1]*g + s.m[1][2]*b + s.off[1]
	nb := s.m[2][0]*r + s.m[2][1]*g + s.m[2][2]*b + s.off[2]
	return clamp01(nr), clamp01(ng), clamp01(nb)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func diagonal(a, off float32) stage {
	return stage{
		m:   [3][3]float32{{a, 0, 0}, {0, a, 0}, {0, 0, a}},
		off: [3]float32{off, off, off},
	}
}

func saturateStage(s float32) stage {
	return stage{m: [3][3]float32{
		{0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s},
		{0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s},
	}}
}

func grayscaleStage(a float32) stage {
	k := 1 - min(a, 1)
	return stage{m: [3][3]float32{
		{0.2126 + 0.7874*k, 0.7152 - 0.7152*k, 0.0722 - 0.0722*k},
		{0.2126 - 0.2126*k, 0.7152 + 0.2848*k, 0.0722 - 0.0722*k},
		{0.2126 - 0.2126*k, 0.7152 - 0.7152*k, 0.0722 + 0.9278*k},
	}}
}

func sepiaStage(a float32) stage {
	k := 1 - min(a, 1)
	return stage{m: [3][3]float32{
		{0.393 + 0.607*k, 0.769 - 0.769*k, 0.189 - 0.189*k},
		{0.349 - 0.349*k, 0.686 + 0.314*k, 0.168 - 0.168*k},
		{0.272 - 0.272*k, 0.534 - 0.534*k, 0.131 + 0.869*k},
	}}
}

// Chain is a parsed operation string.
type Chain struct {
	op     string
	stages []stage
}

// Identity reports whether applying the chain leaves pixels unchanged.
func (c Chain) Identity() bool {
	return len(c.stages) == 0
}

func (c Chain) String() string {
	if c.op == "" {
		return None
	}
	return c.op
}

// Parse interprets an operation string of space separated function calls
// such as "brightness(1.02) saturate(112%)".
func Parse(op string) (Chain, error) {
	op = strings.TrimSpace(op)
	chain := Chain{op: op}
	if op == "" || op == None {
		return chain, nil
	}

	for _, tok := range strings.Fields(op) {
		open := strings.IndexByte(tok, '(')
		if open <= 0 || !strings.HasSuffix(tok, ")") {
			return Chain{}, errors.Errorf("malformed filter function %q", tok)
		}
		name := tok[:open]
		arg, err := parseAmount(tok[open+1 : len(tok)-1])
		if err != nil {
			return Chain{}, errors.Wrapf(err, "filter function %s", name)
		}

		switch name {
		case "brightness":
			chain.stages = append(chain.stages, diagonal(arg, 0))
		case "contrast":
			chain.stages = append(chain.stages, diagonal(arg, 0.5-0.5*arg))
		case "saturate":
			chain.stages = append(chain.stages, saturateStage(arg))
		case "grayscale":
			chain.stages = append(chain.stages, grayscaleStage(arg))
		case "sepia":
			chain.stages = append(chain.stages, sepiaStage(arg))
		default:
			return Chain{}, errors.Errorf("unknown filter function %q", name)
		}
	}
	return chain, nil
}

func parseAmount(s string) (float32, error) {
	percent := strings.HasSuffix(s, "%")
	if percent {
		s = strings.TrimSuffix(s, "%")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, errors.Errorf("invalid amount %q", s)
	}
	if v < 0 {
		return 0, errors.Errorf("negative amount %q", s)
	}
	if percent {
		v /= 100
	}
	return float32(v), nil
}

// Apply grades the pixels of img inside r in place. Rows are split into
// bands processed concurrently; every pixel is computed independently so the
// result does not depend on the split.
func (c Chain) Apply(img *image.RGBA, r image.Rectangle) {
	r = r.Intersect(img.Bounds())
	if c.Identity() || r.Empty() {
		return
	}

	bands := runtime.GOMAXPROCS(0)
	if rows := r.Dy() / minBandRows; rows < bands {
		bands = max(rows, 1)
	}
	if bands == 1 {
		c.applyRows(img, r)
		return
	}

	var wg sync.WaitGroup
	step := (r.Dy() + bands - 1) / bands
	for y := r.Min.Y; y < r.Max.Y; y += step {
		band := image.Rect(r.Min.X, y, r.Max.X, min(y+step, r.Max.Y))
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.applyRows(img, band)
		}()
	}
	wg.Wait()
}

func (c Chain) applyRows(img *image.RGBA, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		i := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x, i = x+1, i+4 {
			px := img.Pix[i : i+4 : i+4]
			a := px[3]
			if a == 0 {
				continue
			}
			// RGBA is alpha premultiplied; grade the straight color.
			scale := float32(a) / 255
			rf := float32(px[0]) / 255 / scale
			gf := float32(px[1]) / 255 / scale
			bf := float32(px[2]) / 255 / scale
			for s := range c.stages {
				rf, gf, bf = c.stages[s].apply(rf, gf, bf)
			}
			px[0] = quantize(rf * scale)
			px[1] = quantize(gf * scale)
			px[2] = quantize(bf * scale)
		}
	}
}

func quantize(v float32) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}
