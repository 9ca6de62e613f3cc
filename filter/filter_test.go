package filter

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

func TestCompileCineV3(t *testing.T) {
	got := CineV3().Compile()
	want := "brightness(1.02) contrast(1.03) saturate(1.12)"
	if got != want {
		t.Fatalf("Compile() = %q, want %q", got, want)
	}
}

func TestCompileDeterministic(t *testing.T) {
	r := CineV3()
	first := r.Compile()
	for i := 0; i < 10; i++ {
		if got := r.Compile(); got != first {
			t.Fatalf("call %d: Compile() = %q, want %q", i, got, first)
		}
	}
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name   string
		recipe Recipe
		want   string
	}{
		{name: "zero value", recipe: Recipe{}, want: "none"},
		{
			name:   "negative magnitude",
			recipe: NewRecipe("dim", Term{Kind: Brightness, MagnitudePercent: -25}),
			want:   "brightness(0.75)",
		},
		{
			name: "magnitude below -100 clamps to zero",
			recipe: NewRecipe("black",
				Term{Kind: Brightness, MagnitudePercent: -150},
				Term{Kind: Sepia, MagnitudePercent: -20},
			),
			want: "brightness(0) sepia(0)",
		},
		{
			name: "order is preserved",
			recipe: NewRecipe("swap",
				Term{Kind: Saturation, MagnitudePercent: 50},
				Term{Kind: Contrast, MagnitudePercent: 0},
			),
			want: "saturate(1.5) contrast(1)",
		},
		{
			name: "approximation kinds use amounts",
			recipe: NewRecipe("old",
				Term{Kind: Sepia, MagnitudePercent: 40},
				Term{Kind: Grayscale, MagnitudePercent: 100},
			),
			want: "sepia(0.4) grayscale(1)",
		},
		{
			name:   "unknown kind is skipped",
			recipe: NewRecipe("odd", Term{Kind: Kind(42), MagnitudePercent: 10}),
			want:   "none",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.recipe.Compile(); got != tt.want {
				t.Errorf("Compile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecipeTermsAreCopied(t *testing.T) {
	terms := []Term{{Kind: Brightness, MagnitudePercent: 10}}
	r := NewRecipe("copy", terms...)
	terms[0].MagnitudePercent = 90
	r.Terms()[0].MagnitudePercent = 70

	if got := r.Compile(); got != "brightness(1.1)" {
		t.Fatalf("recipe changed through caller slice: %q", got)
	}
}

func TestCompileAlwaysParses(t *testing.T) {
	for _, m := range []int{-300, -101, -100, -50, 0, 12, 400} {
		for _, k := range []Kind{Brightness, Contrast, Saturation, Grayscale, Sepia} {
			op := NewRecipe("x", Term{Kind: k, MagnitudePercent: m}).Compile()
			if _, err := Parse(op); err != nil {
				t.Errorf("Parse(%q): %v", op, err)
			}
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		op       string
		wantErr  bool
		identity bool
	}{
		{op: "", identity: true},
		{op: "none", identity: true},
		{op: CineV3().Compile()},
		{op: "saturate(112%)"},
		{op: "  brightness(1)   contrast(2)  "},
		{op: "blur(2px)", wantErr: true},
		{op: "brightness", wantErr: true},
		{op: "brightness(x)", wantErr: true},
		{op: "contrast(-1)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			c, err := Parse(tt.op)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", tt.op)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.op, err)
			}
			if c.Identity() != tt.identity {
				t.Errorf("Identity() = %v, want %v", c.Identity(), tt.identity)
			}
		})
	}
}

func fill(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestApplyPixelMath(t *testing.T) {
	tests := []struct {
		name string
		op   string
		in   color.RGBA
		want color.RGBA
	}{
		{name: "identity", op: "none", in: color.RGBA{10, 20, 30, 255}, want: color.RGBA{10, 20, 30, 255}},
		{name: "brightness doubles", op: "brightness(2)", in: color.RGBA{51, 102, 200, 255}, want: color.RGBA{102, 204, 255, 255}},
		{name: "contrast pivots on mid grey", op: "contrast(1.5)", in: color.RGBA{100, 180, 20, 255}, want: color.RGBA{86, 206, 0, 255}},
		{name: "saturate zero is luma", op: "saturate(0)", in: color.RGBA{255, 0, 0, 255}, want: color.RGBA{54, 54, 54, 255}},
		{name: "grey is saturation invariant", op: "saturate(1.12)", in: color.RGBA{100, 100, 100, 255}, want: color.RGBA{100, 100, 100, 255}},
		{name: "transparent untouched", op: "brightness(2)", in: color.RGBA{0, 0, 0, 0}, want: color.RGBA{0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse(tt.op)
			if err != nil {
				t.Fatal(err)
			}
			img := fill(2, 2, tt.in)
			c.Apply(img, img.Bounds())
			if got := img.RGBAAt(1, 1); got != tt.want {
				t.Errorf("pixel = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyRespectsRect(t *testing.T) {
	c, err := Parse("brightness(0)")
	if err != nil {
		t.Fatal(err)
	}
	img := fill(4, 4, color.RGBA{200, 200, 200, 255})
	c.Apply(img, image.Rect(0, 0, 2, 4))

	if got := img.RGBAAt(0, 0); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("inside rect = %v, want black", got)
	}
	if got := img.RGBAAt(3, 3); got != (color.RGBA{200, 200, 200, 255}) {
		t.Errorf("outside rect = %v, want untouched", got)
	}
}

func TestApplyBandSplitIsStable(t *testing.T) {
	c, err := Parse(CineV3().Compile())
	if err != nil {
		t.Fatal(err)
	}

	gradient := func() *image.RGBA {
		img := image.NewRGBA(image.Rect(0, 0, 97, 517))
		for y := 0; y < 517; y++ {
			for x := 0; x < 97; x++ {
				img.SetRGBA(x, y, color.RGBA{uint8(x * 2), uint8(y), uint8(x + y), 255})
			}
		}
		return img
	}

	whole := gradient()
	c.Apply(whole, whole.Bounds())

	rowByRow := gradient()
	for y := 0; y < 517; y++ {
		c.applyRows(rowByRow, image.Rect(0, y, 97, y+1))
	}

	if !bytes.Equal(whole.Pix, rowByRow.Pix) {
		t.Fatal("banded Apply differs from sequential result")
	}
}
