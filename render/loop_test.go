package render

import (
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/abihf/cinecap/filter"
)

type fakeSource struct {
	mu     sync.Mutex
	active bool
	frame  image.Image
}

func newFakeSource(w, h int) *fakeSource {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	return &fakeSource{active: true, frame: img}
}

func (s *fakeSource) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *fakeSource) Frame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *fakeSource) NativeSize() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return image.Point{}
	}
	return s.frame.Bounds().Size()
}

func (s *fakeSource) set(active bool, frame image.Image) {
	s.mu.Lock()
	s.active, s.frame = active, frame
	s.mu.Unlock()
}

// countingSurface wraps a canvas and counts draws.
type countingSurface struct {
	*Canvas
	draws int
}

func (s *countingSurface) DrawFrame(frame image.Image, x, y, w, h int) error {
	s.draws++
	return s.Canvas.DrawFrame(frame, x, y, w, h)
}

type mutableViewport struct {
	size image.Point
}

func (v *mutableViewport) Size() image.Point {
	return v.size
}

func TestLoopTicks(t *testing.T) {
	var sched ManualScheduler
	src := newFakeSource(1920, 1080)
	surface := NewCanvas(0, 0)
	recipe := filter.CineV3()

	l := Start(&sched, src, surface, FixedViewport{X: 800, Y: 600}, recipe)
	defer l.Stop()

	for i := 1; i <= 5; i++ {
		if ran := sched.Tick(); ran != 1 {
			t.Fatalf("tick %d ran %d callbacks, want 1", i, ran)
		}
		if got := surface.Size(); got != image.Pt(800, 600) {
			t.Errorf("tick %d: surface size = %v, want 800x600", i, got)
		}
		if got := surface.CompositeOperation(); got != recipe.Compile() {
			t.Errorf("tick %d: composite operation = %q, want %q", i, got, recipe.Compile())
		}
		if sched.Pending() != 1 {
			t.Errorf("tick %d: %d pending callbacks, want 1", i, sched.Pending())
		}
	}

	if l.Ticks() != 5 || l.Draws() != 5 {
		t.Errorf("ticks=%d draws=%d, want 5 and 5", l.Ticks(), l.Draws())
	}
	if l.LastOperation() != recipe.Compile() {
		t.Errorf("LastOperation() = %q", l.LastOperation())
	}
	if l.LastSize() != image.Pt(800, 600) {
		t.Errorf("LastSize() = %v", l.LastSize())
	}
}

func TestLoopTracksViewport(t *testing.T) {
	var sched ManualScheduler
	vp := &mutableViewport{size: image.Pt(400, 300)}
	surface := NewCanvas(0, 0)
	l := Start(&sched, newFakeSource(640, 480), surface, vp, filter.CineV3())
	defer l.Stop()

	sched.Tick()
	if surface.Size() != image.Pt(400, 300) {
		t.Fatalf("size = %v", surface.Size())
	}

	vp.size = image.Pt(1024, 768)
	sched.Tick()
	if surface.Size() != image.Pt(1024, 768) {
		t.Fatalf("size after resize = %v", surface.Size())
	}
}

func TestLoopStop(t *testing.T) {
	var sched ManualScheduler
	surface := &countingSurface{Canvas: NewCanvas(0, 0)}
	l := Start(&sched, newFakeSource(64, 64), surface, FixedViewport{X: 32, Y: 32}, filter.CineV3())

	sched.Tick()
	sched.Tick()
	l.Stop()

	if sched.Pending() != 0 {
		t.Fatalf("%d callbacks pending after Stop", sched.Pending())
	}
	for i := 0; i < 3; i++ {
		sched.Tick()
	}
	if surface.draws != 2 {
		t.Errorf("draws = %d, want 2", surface.draws)
	}
	if l.Running() {
		t.Error("Running() after Stop")
	}

	select {
	case <-l.Done():
	default:
		t.Error("Done() not closed")
	}

	l.Stop()
}

func TestLoopStopsWhenSourceInactive(t *testing.T) {
	var sched ManualScheduler
	src := newFakeSource(64, 64)
	surface := &countingSurface{Canvas: NewCanvas(0, 0)}
	l := Start(&sched, src, surface, FixedViewport{X: 32, Y: 32}, filter.CineV3())

	sched.Tick()
	src.set(false, nil)
	sched.Tick()

	if l.Running() {
		t.Fatal("loop still running with inactive source")
	}
	if sched.Pending() != 0 {
		t.Errorf("%d callbacks pending, want 0", sched.Pending())
	}
	if surface.draws != 1 {
		t.Errorf("draws = %d, want 1", surface.draws)
	}
}

func TestLoopSkipsMissingFrame(t *testing.T) {
	var sched ManualScheduler
	src := newFakeSource(64, 64)
	src.set(true, nil)
	surface := &countingSurface{Canvas: NewCanvas(0, 0)}
	l := Start(&sched, src, surface, FixedViewport{X: 32, Y: 32}, filter.CineV3())
	defer l.Stop()

	sched.Tick()
	sched.Tick()
	if surface.draws != 0 {
		t.Errorf("draws = %d with no frame", surface.draws)
	}
	if !l.Running() || sched.Pending() != 1 {
		t.Error("loop did not reschedule after a skipped draw")
	}

	src.set(true, image.NewRGBA(image.Rect(0, 0, 64, 64)))
	sched.Tick()
	if surface.draws != 1 {
		t.Errorf("draws = %d after frame arrived, want 1", surface.draws)
	}
}

func TestLoopNilSurface(t *testing.T) {
	var sched ManualScheduler
	l := Start(&sched, newFakeSource(8, 8), nil, FixedViewport{X: 8, Y: 8}, filter.CineV3())
	defer l.Stop()

	sched.Tick()
	if !l.Running() || sched.Pending() != 1 {
		t.Error("loop stopped on missing surface")
	}
	if l.Draws() != 0 {
		t.Errorf("draws = %d", l.Draws())
	}
}

func TestLoopAppliesRecipe(t *testing.T) {
	var sched ManualScheduler
	src := newFakeSource(4, 4)
	frame := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(frame.Pix); i += 4 {
		frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2], frame.Pix[i+3] = 51, 51, 51, 255
	}
	src.set(true, frame)

	dark := filter.NewRecipe("half", filter.Term{Kind: filter.Brightness, MagnitudePercent: -100})
	surface := NewCanvas(0, 0)
	l := Start(&sched, src, surface, FixedViewport{X: 4, Y: 4}, dark)
	defer l.Stop()

	sched.Tick()
	if got := surface.Image().RGBAAt(2, 2); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("pixel = %v, want black", got)
	}
	if frame.Pix[0] != 51 {
		t.Error("source frame modified by draw")
	}
}

func TestLoopStopFromOtherGoroutine(t *testing.T) {
	sched := NewTickerScheduler(200)
	defer sched.Close()

	surface := &countingSurface{Canvas: NewCanvas(0, 0)}
	l := Start(sched, newFakeSource(32, 32), surface, FixedViewport{X: 16, Y: 16}, filter.CineV3())

	deadline := time.Now().Add(2 * time.Second)
	for l.Draws() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("ticker never drove the loop")
		}
		time.Sleep(time.Millisecond)
	}

	l.Stop()
	after := l.Draws()
	time.Sleep(50 * time.Millisecond)
	if got := l.Draws(); got != after {
		t.Errorf("draws went from %d to %d after Stop", after, got)
	}
}
