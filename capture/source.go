package capture

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Source is the active camera binding. It keeps the most recent frame of
// the stream and is the only owner of the stream handle.
type Source struct {
	stream Stream
	logger *slog.Logger

	mu     sync.RWMutex
	frame  image.Image
	size   image.Point
	active bool
	err    error

	cancel  context.CancelFunc
	ready   chan struct{}
	lost    chan struct{}
	done    chan struct{}
	release sync.Once
}

// Acquire opens a stream and waits for its first frame. On success the
// source is active and its native size is known. On failure nothing is left
// open and the error wraps ErrPermissionDenied or ErrDeviceUnavailable.
func Acquire(ctx context.Context, d Driver, c Constraints, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	stream, err := d.Open(ctx, c)
	if err != nil {
		return nil, classify("", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Source{
		stream: stream,
		logger: logger.With("device", stream.Device()),
		cancel: cancel,
		ready:  make(chan struct{}),
		lost:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(runCtx)

	select {
	case <-s.ready:
		size := s.NativeSize()
		s.logger.Info("camera active", "width", size.X, "height", size.Y)
		return s, nil
	case <-s.lost:
		s.Release()
		return nil, notReady(stream.Device(), errors.Wrap(s.Err(), "stream ended before first frame"))
	case <-ctx.Done():
		s.Release()
		return nil, notReady(stream.Device(), errors.Wrap(ctx.Err(), "waiting for first frame"))
	}
}

// notReady reports a stream that opened but never delivered a frame.
func notReady(device string, err error) error {
	kind := ErrDeviceUnavailable
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		kind = ErrPermissionDenied
	}
	return &DeviceError{Kind: kind, Device: device, Err: err}
}

func (s *Source) run(ctx context.Context) {
	defer close(s.done)

	err := s.pump(ctx)
	if err != nil {
		s.mu.Lock()
		wasActive := s.active
		s.err = err
		s.active = false
		s.frame = nil
		s.mu.Unlock()
		if wasActive {
			s.logger.Warn("camera stream ended", "error", err)
		}
	}

	if cerr := s.stream.Close(); cerr != nil {
		s.logger.Warn("closing camera stream", "error", cerr)
	}
	if err != nil {
		close(s.lost)
	}
}

// pump stores frames until the context is canceled or the stream fails.
func (s *Source) pump(ctx context.Context) error {
	for {
		img, err := s.stream.ReadFrame(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if img == nil {
			continue
		}

		s.mu.Lock()
		if ctx.Err() != nil {
			s.mu.Unlock()
			return nil
		}
		first := !s.active
		s.frame = img
		s.size = img.Bounds().Size()
		s.active = true
		s.mu.Unlock()

		if first {
			close(s.ready)
		}
	}
}

// Release stops the stream and waits until no more frames can be delivered.
// It is safe to call on a nil source and more than once.
func (s *Source) Release() {
	if s == nil {
		return
	}
	s.release.Do(func() {
		s.cancel()
		<-s.done

		s.mu.Lock()
		s.active = false
		s.frame = nil
		s.mu.Unlock()
		s.logger.Info("camera released")
	})
}

// Active reports whether frames are flowing. Nil sources are inactive.
func (s *Source) Active() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Frame returns the latest frame, or nil when inactive.
func (s *Source) Frame() image.Image {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// NativeSize is the intrinsic resolution of the stream.
func (s *Source) NativeSize() image.Point {
	if s == nil {
		return image.Point{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *Source) Device() string {
	if s == nil {
		return ""
	}
	return s.stream.Device()
}

// Lost is closed when the stream ends without Release being called.
func (s *Source) Lost() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.lost
}

// Err returns why the stream ended, if it did.
func (s *Source) Err() error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}
