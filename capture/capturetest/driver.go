// Package capturetest provides synthetic camera drivers.
package capturetest

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/abihf/cinecap/capture"
)

// Driver opens synthetic streams producing gradient frames of Size.
type Driver struct {
	Size    image.Point
	Device  string
	// OpenErr fails Open. ReadErr fails the first ReadFrame, so the stream
	// opens but never becomes ready.
	OpenErr error
	ReadErr error
	// Opening, when set, receives a value each time Open is entered. Gate,
	// when set, holds Open until it is closed or the context ends.
	Opening chan struct{}
	Gate    chan struct{}

	mu          sync.Mutex
	streams     []*Stream
	constraints []capture.Constraints
}

func NewDriver(width, height int) *Driver {
	return &Driver{Size: image.Pt(width, height), Device: "/dev/fake0"}
}

func (d *Driver) Open(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	d.mu.Lock()
	d.constraints = append(d.constraints, c)
	opening, gate := d.Opening, d.Gate
	d.mu.Unlock()

	if opening != nil {
		opening <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	s := &Stream{
		device:  d.Device,
		size:    d.Size,
		readErr: d.ReadErr,
		next:    make(chan struct{}),
		lose:    make(chan error, 1),
	}
	d.streams = append(d.streams, s)
	return s, nil
}

// Streams returns every stream opened so far.
func (d *Driver) Streams() []*Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Stream(nil), d.streams...)
}

// Constraints returns the constraints of every Open call.
func (d *Driver) Constraints() []capture.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]capture.Constraints(nil), d.constraints...)
}

// Stream delivers its first frame immediately and later ones on Push.
type Stream struct {
	device  string
	size    image.Point
	readErr error

	next chan struct{}
	lose chan error

	mu     sync.Mutex
	frames int
	closed bool
}

func (s *Stream) Device() string {
	return s.device
}

func (s *Stream) ReadFrame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	n := s.frames
	s.mu.Unlock()

	if n == 0 && s.readErr != nil {
		return nil, s.readErr
	}
	if n > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-s.lose:
			return nil, err
		case <-s.next:
		}
	}

	s.mu.Lock()
	s.frames++
	n = s.frames
	s.mu.Unlock()
	return Gradient(s.size.X, s.size.Y, n), nil
}

// Push makes the stream deliver one more frame. It blocks until the frame
// is read.
func (s *Stream) Push() {
	s.next <- struct{}{}
}

// Lose ends the stream with err, as an unplugged camera would.
func (s *Stream) Lose(err error) {
	s.lose <- err
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether all tracks were stopped.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Frames is the number of frames delivered.
func (s *Stream) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Gradient builds an opaque test frame whose content depends on seed.
func Gradient(width, height, seed int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x + seed),
				G: uint8(y + seed),
				B: uint8((x + y) / 2),
				A: 0xff,
			})
		}
	}
	return img
}
