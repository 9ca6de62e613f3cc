// Package render composites graded camera frames onto display surfaces,
// one frame per refresh tick.
package render

import (
	"image"
)

// FrameSource is the read side of a camera binding.
type FrameSource interface {
	Active() bool
	Frame() image.Image
	NativeSize() image.Point
}

// Surface is a raster target. The composite operation applies to every
// subsequent DrawFrame.
type Surface interface {
	Resize(width, height int)
	Size() image.Point
	SetCompositeOperation(op string) error
	CompositeOperation() string
	DrawFrame(frame image.Image, x, y, width, height int) error
}

// Viewport reports the current display size of a surface.
type Viewport interface {
	Size() image.Point
}

// FixedViewport never changes size.
type FixedViewport image.Point

func (v FixedViewport) Size() image.Point {
	return image.Point(v)
}

// Scheduler runs each scheduled callback once on the next refresh tick.
// Callbacks never run concurrently. The returned function cancels the
// callback if it has not started yet.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}
