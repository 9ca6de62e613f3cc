package hooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/abihf/cinecap"
	"github.com/abihf/cinecap/capture/capturetest"
	"github.com/abihf/cinecap/export"
	"github.com/abihf/cinecap/render"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recorder) start(name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestLinkOpenerHandle(t *testing.T) {
	tests := []struct {
		name    string
		opener  LinkOpener
		kind    cinecap.EventKind
		want    []string
		wantErr error
	}{
		{
			name:   "capture opens default command",
			opener: LinkOpener{URL: "https://example.com/offer"},
			kind:   cinecap.EventCapture,
			want:   []string{"xdg-open", "https://example.com/offer"},
		},
		{
			name:   "custom command",
			opener: LinkOpener{URL: "https://example.com", Command: "firefox"},
			kind:   cinecap.EventCapture,
			want:   []string{"firefox", "https://example.com"},
		},
		{
			name:   "other events ignored",
			opener: LinkOpener{URL: "https://example.com"},
			kind:   cinecap.EventActive,
		},
		{
			name:   "no url",
			opener: LinkOpener{},
			kind:   cinecap.EventCapture,
		},
		{
			name:    "start failure is swallowed",
			opener:  LinkOpener{URL: "https://example.com"},
			kind:    cinecap.EventCapture,
			want:    []string{"xdg-open", "https://example.com"},
			wantErr: errors.New("no such file"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{err: tt.wantErr}
			o := tt.opener
			o.start = rec.start
			o.Handle(cinecap.Event{Kind: tt.kind})

			if tt.want == nil {
				if rec.count() != 0 {
					t.Fatalf("unexpected calls: %v", rec.calls)
				}
				return
			}
			if rec.count() != 1 {
				t.Fatalf("%d calls, want 1", rec.count())
			}
			got := rec.calls[0]
			if len(got) != len(tt.want) {
				t.Fatalf("call = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("call = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestLinkOpenerAttach(t *testing.T) {
	var sched render.ManualScheduler
	s, err := cinecap.New(cinecap.Options{
		Driver:    capturetest.NewDriver(64, 48),
		Scheduler: &sched,
		Viewport:  render.FixedViewport{X: 32, Y: 24},
		Surface:   render.NewCanvas(0, 0),
		Sink:      &export.MemorySink{},
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	o := &LinkOpener{URL: "https://example.com", start: rec.start}
	detach := o.Attach(s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Mount(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Capture(); err != nil {
		t.Fatal(err)
	}
	s.Close()
	detach()

	if rec.count() != 1 {
		t.Errorf("opener ran %d times, want 1", rec.count())
	}

	none := (&LinkOpener{}).Attach(s)
	none()
}
