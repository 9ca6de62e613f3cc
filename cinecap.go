// Package cinecap wires a camera source, a graded live preview and still
// export into one session.
package cinecap

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/abihf/cinecap/capture"
	"github.com/abihf/cinecap/export"
	"github.com/abihf/cinecap/filter"
	"github.com/abihf/cinecap/render"
)

type State int

const (
	NotStarted State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "not-started"
}

// ErrUnmounted is returned by Mount when the session was unmounted while
// the camera was still being acquired.
var ErrUnmounted = errors.New("session unmounted during acquisition")

type Options struct {
	Driver      capture.Driver
	Constraints capture.Constraints
	// Recipe grades both the preview and exported stills. The zero value
	// means filter.CineV3.
	Recipe      filter.Recipe
	Scheduler   render.Scheduler
	Surface     render.Surface
	Viewport    render.Viewport
	Sink        export.Sink
	Logger      *slog.Logger
}

// Session is a two-state machine: NotStarted until Mount acquires a camera,
// Active until Unmount or the camera is lost.
type Session struct {
	driver      capture.Driver
	constraints capture.Constraints
	recipe      filter.Recipe
	sched       render.Scheduler
	surface     render.Surface
	viewport    render.Viewport
	exporter    *export.Exporter
	logger      *slog.Logger
	bus         *bus

	mu       sync.Mutex
	state    State
	mounting *mountCall
	gen      int
	src      *capture.Source
	loop     *render.Loop
	quit     chan struct{}
}

func New(opts Options) (*Session, error) {
	if opts.Driver == nil {
		return nil, errors.New("cinecap: no camera driver")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("cinecap: no scheduler")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	recipe := opts.Recipe
	if recipe.Name() == "" && len(recipe.Terms()) == 0 {
		recipe = filter.CineV3()
	}
	constraints := opts.Constraints
	if constraints == (capture.Constraints{}) {
		constraints = capture.DefaultConstraints()
	}

	return &Session{
		driver:      opts.Driver,
		constraints: constraints,
		recipe:      recipe,
		sched:       opts.Scheduler,
		surface:     opts.Surface,
		viewport:    opts.Viewport,
		exporter: &export.Exporter{
			Recipe: recipe,
			Sink:   opts.Sink,
			Logger: logger.With("component", "export"),
		},
		logger: logger,
		bus:    newBus(logger),
	}, nil
}

// Mount acquires the camera and starts the preview. On failure the session
// stays NotStarted and the acquisition error is returned. Mounting an
// active session does nothing, and a Mount that overlaps a pending one
// waits for it and returns its result.
func (s *Session) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Active {
		s.mu.Unlock()
		return nil
	}
	if call := s.mounting; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for pending mount")
		}
	}
	call := &mountCall{done: make(chan struct{})}
	s.mounting = call
	gen := s.gen
	s.mu.Unlock()

	call.err = s.mount(ctx, call, gen)
	close(call.done)
	return call.err
}

type mountCall struct {
	done chan struct{}
	err  error
}

func (s *Session) mount(ctx context.Context, call *mountCall, gen int) error {
	src, err := capture.Acquire(ctx, s.driver, s.constraints, s.logger.With("component", "capture"))

	s.mu.Lock()
	if s.mounting == call {
		s.mounting = nil
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("camera acquisition failed", "error", err)
		s.bus.publish(Event{Kind: EventAcquireFailed, Err: err})
		return err
	}
	if gen != s.gen {
		s.mu.Unlock()
		src.Release()
		return ErrUnmounted
	}

	s.src = src
	s.loop = render.Start(s.sched, src, s.surface, s.viewport, s.recipe,
		render.WithLogger(s.logger.With("component", "render")))
	s.state = Active
	s.quit = make(chan struct{})
	go s.watchLoss(src, s.quit, s.gen)
	s.mu.Unlock()

	size := src.NativeSize()
	s.logger.Info("session active", "device", src.Device(), "width", size.X, "height", size.Y)
	s.bus.publish(Event{Kind: EventActive, Device: src.Device()})
	return nil
}

// Unmount stops the preview and releases the camera. It is safe from any
// state and more than once. A pending Mount returns ErrUnmounted.
func (s *Session) Unmount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.mounting = nil
	s.teardown()
}

// teardown must be called with mu held.
func (s *Session) teardown() {
	if s.quit != nil {
		close(s.quit)
		s.quit = nil
	}
	s.loop.Stop()
	s.src.Release()
	s.loop, s.src = nil, nil
	if s.state == Active {
		s.logger.Info("session stopped")
	}
	s.state = NotStarted
}

func (s *Session) watchLoss(src *capture.Source, quit <-chan struct{}, gen int) {
	select {
	case <-quit:
		return
	case <-src.Lost():
	}

	s.mu.Lock()
	if gen != s.gen || s.src != src {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.teardown()
	s.mu.Unlock()

	s.logger.Warn("camera lost", "device", src.Device(), "error", src.Err())
	s.bus.publish(Event{Kind: EventDeviceLost, Device: src.Device(), Err: src.Err()})
}

// Capture exports the current frame at native resolution. Subscribers see
// EventCapture before the export runs and EventExported once the still has
// been saved. Capturing while not active returns
// export.ErrCapturePrecondition without drawing.
func (s *Session) Capture() (*export.Artifact, error) {
	s.mu.Lock()
	src := s.src
	active := s.state == Active && src.Active()
	s.mu.Unlock()
	if !active {
		return nil, export.ErrCapturePrecondition
	}

	s.bus.publish(Event{Kind: EventCapture, Device: src.Device()})
	art, err := s.exporter.CaptureAndExport(src)
	if err != nil {
		return nil, err
	}
	s.bus.publish(Event{Kind: EventExported, Device: src.Device(), Artifact: art})
	return art, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loop returns the current render loop, or nil when not active.
func (s *Session) Loop() *render.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// Source returns the bound camera, or nil when not active.
func (s *Session) Source() *capture.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

func (s *Session) Recipe() filter.Recipe {
	return s.recipe
}

// Subscribe registers fn for every later event. Events are delivered in
// order on a separate goroutine, so fn never blocks the session.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.bus.subscribe(fn)
}

// Close unmounts the session and waits for queued events to be delivered.
func (s *Session) Close() {
	s.Unmount()
	s.bus.close()
}

type EventKind int

const (
	EventActive EventKind = iota + 1
	EventAcquireFailed
	EventCapture
	EventExported
	EventDeviceLost
)

var eventNames = map[EventKind]string{
	EventActive:        "active",
	EventAcquireFailed: "acquire-failed",
	EventCapture:       "capture",
	EventExported:      "exported",
	EventDeviceLost:    "device-lost",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

type Event struct {
	ID       uuid.UUID
	Kind     EventKind
	Time     time.Time
	Device   string
	Err      error
	Artifact *export.Artifact
}

// bus fans events out to subscribers from a single goroutine.
type bus struct {
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(Event)
	nextSub int
	queue   []Event
	wake    chan struct{}
	closed  bool
	done    chan struct{}
}

func newBus(logger *slog.Logger) *bus {
	b := &bus{
		logger: logger,
		subs:   make(map[int]func(Event)),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *bus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *bus) publish(ev Event) {
	ev.ID = uuid.New()
	ev.Time = time.Now()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	b.logger.Debug("event", "kind", ev.Kind.String(), "id", ev.ID)

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *bus) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		closed := b.closed
		b.mu.Unlock()

		for _, ev := range batch {
			b.deliver(ev)
		}
		if closed && len(batch) == 0 {
			return
		}
		if len(batch) == 0 {
			<-b.wake
		}
	}
}

func (b *bus) deliver(ev Event) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	subs := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		subs = append(subs, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// close stops accepting events and waits until the queue is drained.
func (b *bus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
	<-b.done
}
