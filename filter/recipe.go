// Package filter describes color grades as ordered term lists and executes
// their compiled operation strings on RGBA rasters.
package filter

import (
	"strconv"
	"strings"
)

type Kind int

const (
	Brightness Kind = iota
	Contrast
	Saturation
	// Grayscale and Sepia approximate looks the operation language has no
	// direct function for.
	Grayscale
	Sepia
)

func (k Kind) function() string {
	switch k {
	case Brightness:
		return "brightness"
	case Contrast:
		return "contrast"
	case Saturation:
		return "saturate"
	case Grayscale:
		return "grayscale"
	case Sepia:
		return "sepia"
	}
	return ""
}

func (k Kind) String() string {
	if f := k.function(); f != "" {
		return f
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Term is a single adjustment of a recipe.
type Term struct {
	Kind             Kind
	MagnitudePercent int
}

// Factor is the numeric argument the term compiles to. It never goes below
// zero, so magnitudes under -100 compile to a fully removed adjustment.
func (t Term) Factor() float64 {
	f := 1 + float64(t.MagnitudePercent)/100
	switch t.Kind {
	case Grayscale, Sepia:
		f = float64(t.MagnitudePercent) / 100
	}
	return max(f, 0)
}

func (t Term) compile() string {
	return t.Kind.function() + "(" + strconv.FormatFloat(t.Factor(), 'f', -1, 64) + ")"
}

// Recipe is an immutable, ordered list of terms. The zero value is the
// identity grade.
type Recipe struct {
	name  string
	terms []Term
}

func NewRecipe(name string, terms ...Term) Recipe {
	return Recipe{name: name, terms: append([]Term(nil), terms...)}
}

// CineV3 is the look shipped with the camera: a slight lift in brightness and
// contrast with a stronger saturation boost.
func CineV3() Recipe {
	return NewRecipe("cine-v3",
		Term{Kind: Brightness, MagnitudePercent: 2},
		Term{Kind: Contrast, MagnitudePercent: 3},
		Term{Kind: Saturation, MagnitudePercent: 12},
	)
}

func (r Recipe) Name() string {
	return r.name
}

func (r Recipe) Terms() []Term {
	return append([]Term(nil), r.terms...)
}

// Compile renders the recipe as a space separated operation string in
// declared term order. Terms of unknown kind are skipped.
func (r Recipe) Compile() string {
	parts := make([]string, 0, len(r.terms))
	for _, t := range r.terms {
		if t.Kind.function() == "" {
			continue
		}
		parts = append(parts, t.compile())
	}
	if len(parts) == 0 {
		return None
	}
	return strings.Join(parts, " ")
}
