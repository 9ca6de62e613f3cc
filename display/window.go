// Package display shows the graded preview in an OpenCV HighGUI window.
// HighGUI must be driven from the main OS thread, so the window is also the
// scheduler of the render loop: Run ticks the loop, presents the canvas and
// polls the keyboard.
package display

import (
	"context"
	"image"
	"log/slog"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/abihf/cinecap/render"
)

const (
	KeyEscape = 27
	KeySpace  = ' '
)

// Window is a render.Surface and render.Scheduler backed by one HighGUI
// window.
type Window struct {
	*render.Canvas

	win    *gocv.Window
	sched  render.ManualScheduler
	size   image.Point
	keys   map[int]func()
	logger *slog.Logger
}

func NewWindow(name string, width, height int, logger *slog.Logger) *Window {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &Window{
		Canvas: render.NewCanvas(width, height),
		win:    gocv.NewWindow(name),
		size:   image.Pt(width, height),
		keys:   make(map[int]func()),
		logger: logger.With("window", name),
	}
	w.win.ResizeWindow(width, height)
	w.OnKey('+', func() { w.scale(11, 10) })
	w.OnKey('-', func() { w.scale(10, 11) })
	return w
}

// Viewport follows the preview zoom, changed with the + and - keys.
func (w *Window) Viewport() render.Viewport {
	return viewport{w}
}

type viewport struct {
	w *Window
}

func (v viewport) Size() image.Point {
	return v.w.size
}

// Schedule queues fn for the next iteration of Run.
func (w *Window) Schedule(fn func()) func() {
	return w.sched.Schedule(fn)
}

// OnKey registers fn for a key code returned by WaitKey. q and escape always
// quit Run.
func (w *Window) OnKey(key int, fn func()) {
	w.keys[key] = fn
}

func (w *Window) SetTitle(title string) {
	w.win.SetWindowTitle(title)
}

func (w *Window) scale(num, den int) {
	next := image.Pt(w.size.X*num/den, w.size.Y*num/den)
	if next.X < 16 || next.Y < 16 {
		return
	}
	w.size = next
	w.win.ResizeWindow(next.X, next.Y)
	w.logger.Debug("preview resized", "width", next.X, "height", next.Y)
}

// Run drives the window until ctx is done, the window is closed or a quit
// key is pressed. It must be called from the main OS thread.
func (w *Window) Run(ctx context.Context, fps int) error {
	if fps <= 0 {
		fps = 30
	}
	delay := max(1, 1000/fps)

	for {
		if ctx.Err() != nil {
			return nil
		}
		w.sched.Tick()
		if err := w.present(); err != nil {
			return err
		}

		key := w.win.WaitKey(delay)
		if key < 0 {
			if !w.win.IsOpen() {
				return nil
			}
			continue
		}
		key &= 0xff
		if key == 'q' || key == KeyEscape {
			return nil
		}
		if fn, ok := w.keys[key]; ok {
			fn()
		}
	}
}

func (w *Window) present() error {
	img := w.Image()
	size := img.Bounds().Size()
	if size.X == 0 || size.Y == 0 {
		return nil
	}

	rgba, err := gocv.NewMatFromBytes(size.Y, size.X, gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return errors.Wrap(err, "Can not wrap preview frame")
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	w.win.IMShow(bgr)
	return nil
}

func (w *Window) Close() error {
	return w.win.Close()
}
