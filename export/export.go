// Package export turns the current camera frame into a graded PNG still.
package export

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/abihf/cinecap/filter"
	"github.com/abihf/cinecap/render"
)

// DefaultFilename is the name every still is exported under.
const DefaultFilename = "v3-cap-image.png"

// ErrCapturePrecondition means a capture was attempted without an active
// source. Callers must gate the trigger on readiness.
var ErrCapturePrecondition = errors.New("capture requires an active camera")

// Artifact is one encoded still.
type Artifact struct {
	Data      []byte
	MIME      string
	Width     int
	Height    int
	Operation string
	Filename  string
	// Location is where the sink stored the artifact.
	Location  string
}

type Sink interface {
	Save(name string, data []byte) (string, error)
}

// Exporter grades stills at the native resolution of the source.
type Exporter struct {
	Recipe   filter.Recipe
	Sink     Sink
	Filename string
	Logger   *slog.Logger
}

// CaptureAndExport draws the current frame of src at its native size with
// the exporter's recipe, encodes it as PNG and hands it to the sink.
func (e *Exporter) CaptureAndExport(src render.FrameSource) (*Artifact, error) {
	if src == nil || !src.Active() {
		return nil, ErrCapturePrecondition
	}
	frame := src.Frame()
	if frame == nil {
		return nil, ErrCapturePrecondition
	}
	size := src.NativeSize()
	if size.X <= 0 || size.Y <= 0 {
		size = frame.Bounds().Size()
	}

	canvas := render.NewCanvas(size.X, size.Y)
	op := e.Recipe.Compile()
	if err := canvas.SetCompositeOperation(op); err != nil {
		return nil, err
	}
	if err := canvas.DrawFrame(frame, 0, 0, size.X, size.Y); err != nil {
		return nil, errors.Wrap(err, "draw still")
	}
	data, err := canvas.ToEncodedImage(render.MIMEPNG)
	if err != nil {
		return nil, err
	}

	name := e.Filename
	if name == "" {
		name = DefaultFilename
	}
	art := &Artifact{
		Data:      data,
		MIME:      render.MIMEPNG,
		Width:     size.X,
		Height:    size.Y,
		Operation: op,
		Filename:  name,
	}

	if e.Sink != nil {
		loc, err := e.Sink.Save(name, data)
		if err != nil {
			return nil, errors.Wrap(err, "export still")
		}
		art.Location = loc
	}

	e.logger().Info("still exported",
		"file", art.Location,
		"width", art.Width,
		"height", art.Height,
		"size", humanize.Bytes(uint64(len(data))),
		"op", op,
	)
	return art, nil
}

func (e *Exporter) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// DirSink writes artifacts into Dir. Unless Overwrite is set an existing
// file is kept and the new one gets a " (n)" suffix, as browsers do for
// repeated downloads.
type DirSink struct {
	Dir       string
	Overwrite bool

	mu sync.Mutex
}

func (s *DirSink) Save(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}

	target := filepath.Join(dir, filepath.Base(name))
	if !s.Overwrite {
		target = nextFree(target)
	}

	tmp, err := os.CreateTemp(dir, ".cinecap-*")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "write still")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close still")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", errors.Wrap(err, "chmod still")
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", errors.Wrap(err, "rename still")
	}
	return target, nil
}

func nextFree(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// MemorySink keeps artifacts in memory, keyed by name.
type MemorySink struct {
	mu    sync.Mutex
	files map[string][]byte
	saves int
}

func (s *MemorySink) Save(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[name] = append([]byte(nil), data...)
	s.saves++
	return "memory:" + name, nil
}

func (s *MemorySink) Get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	return data, ok
}

// Saves counts Save calls.
func (s *MemorySink) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
