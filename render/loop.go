package render

import (
	"image"
	"log/slog"
	"sync"

	"github.com/abihf/cinecap/filter"
)

// Loop redraws a surface from a frame source on every scheduler tick until
// stopped or until the source goes inactive.
type Loop struct {
	sched    Scheduler
	src      FrameSource
	surface  Surface
	viewport Viewport
	recipe   filter.Recipe
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	cancel   func()
	done     chan struct{}
	ticks    int
	draws    int
	lastOp   string
	lastSize image.Point
}

type Option func(*Loop)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// Start schedules the first tick and returns the running loop.
func Start(sched Scheduler, src FrameSource, surface Surface, viewport Viewport, recipe filter.Recipe, opts ...Option) *Loop {
	l := &Loop{
		sched:    sched,
		src:      src,
		surface:  surface,
		viewport: viewport,
		recipe:   recipe,
		running:  true,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}

	l.mu.Lock()
	l.cancel = sched.Schedule(l.tick)
	l.mu.Unlock()
	l.logger.Debug("render loop started", "recipe", recipe.Name())
	return l
}

func (l *Loop) tick() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.cancel = nil

	if l.src != nil && !l.src.Active() {
		l.halt()
		l.logger.Debug("render loop stopped: source inactive", "ticks", l.ticks)
		return
	}

	l.ticks++
	l.draw()
	l.cancel = l.sched.Schedule(l.tick)
}

// draw runs one composite. Missing pieces skip the draw without stopping
// the loop.
func (l *Loop) draw() {
	if l.surface == nil {
		return
	}
	size := l.surface.Size()
	if l.viewport != nil {
		size = l.viewport.Size()
	}
	l.surface.Resize(size.X, size.Y)
	l.lastSize = l.surface.Size()

	op := l.recipe.Compile()
	if err := l.surface.SetCompositeOperation(op); err != nil {
		l.logger.Warn("composite operation rejected", "op", op, "error", err)
		return
	}
	l.lastOp = op

	if l.src == nil || size.X <= 0 || size.Y <= 0 {
		return
	}
	frame := l.src.Frame()
	if frame == nil {
		return
	}
	if err := l.surface.DrawFrame(frame, 0, 0, size.X, size.Y); err != nil {
		l.logger.Debug("draw skipped", "error", err)
		return
	}
	l.draws++
}

func (l *Loop) halt() {
	l.running = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	close(l.done)
}

// Stop cancels the pending tick. If a tick is running Stop waits for it, so
// nothing is drawn after Stop returns. Stop is safe to call more than once.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.halt()
	l.logger.Debug("render loop stopped", "ticks", l.ticks, "draws", l.draws)
}

func (l *Loop) Running() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done is closed when the loop stops for any reason.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Ticks counts iterations that reached the draw step.
func (l *Loop) Ticks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Draws counts frames actually drawn.
func (l *Loop) Draws() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draws
}

// LastOperation is the composite operation set by the most recent tick.
func (l *Loop) LastOperation() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastOp
}

// LastSize is the surface size after the most recent resize.
func (l *Loop) LastSize() image.Point {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSize
}
