package capture_test

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/abihf/cinecap/capture"
	"github.com/abihf/cinecap/capture/capturetest"
)

func TestAcquire(t *testing.T) {
	d := capturetest.NewDriver(3840, 2160)
	src, err := capture.Acquire(context.Background(), d, capture.DefaultConstraints(), nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer src.Release()

	if !src.Active() {
		t.Fatal("source not active after Acquire")
	}
	if got := src.NativeSize(); got != image.Pt(3840, 2160) {
		t.Errorf("NativeSize() = %v, want 3840x2160", got)
	}
	if src.Frame() == nil {
		t.Error("Frame() = nil on active source")
	}
	if src.Device() != "/dev/fake0" {
		t.Errorf("Device() = %q", src.Device())
	}

	c := d.Constraints()
	if len(c) != 1 || c[0] != capture.DefaultConstraints() {
		t.Errorf("driver constraints = %+v", c)
	}
	if c[0].IdealWidth != 4096 || c[0].IdealHeight != 2160 || c[0].Facing != capture.FacingEnvironment {
		t.Errorf("default constraints = %+v", c[0])
	}
}

func TestAcquireFailures(t *testing.T) {
	tests := []struct {
		name    string
		driver  *capturetest.Driver
		want    error
		streams int
	}{
		{
			name: "permission denied",
			driver: &capturetest.Driver{
				Size:    image.Pt(640, 480),
				OpenErr: errors.Wrap(unix.EACCES, "open /dev/video0"),
			},
			want: capture.ErrPermissionDenied,
		},
		{
			name: "no device",
			driver: &capturetest.Driver{
				Size:    image.Pt(640, 480),
				OpenErr: errors.Wrap(unix.ENOENT, "open /dev/video0"),
			},
			want: capture.ErrDeviceUnavailable,
		},
		{
			name: "stream never ready",
			driver: &capturetest.Driver{
				Size:    image.Pt(640, 480),
				ReadErr: errors.New("select: bad state"),
			},
			want:    capture.ErrDeviceUnavailable,
			streams: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := capture.Acquire(context.Background(), tt.driver, capture.DefaultConstraints(), nil)
			if err == nil {
				src.Release()
				t.Fatal("Acquire succeeded, want error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if src != nil {
				t.Error("source returned with error")
			}

			streams := tt.driver.Streams()
			if len(streams) != tt.streams {
				t.Fatalf("opened %d streams, want %d", len(streams), tt.streams)
			}
			for _, s := range streams {
				if !s.Closed() {
					t.Error("stream left open after failed acquisition")
				}
			}
		})
	}
}

func TestAcquireContextCanceled(t *testing.T) {
	d := capturetest.NewDriver(64, 48)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The first frame is delivered without waiting, so either outcome is
	// valid; a failure must still leave no stream open.
	src, err := capture.Acquire(ctx, d, capture.DefaultConstraints(), nil)
	if err != nil {
		if !errors.Is(err, capture.ErrDeviceUnavailable) {
			t.Errorf("error = %v, want ErrDeviceUnavailable", err)
		}
		for _, s := range d.Streams() {
			if !s.Closed() {
				t.Error("stream left open")
			}
		}
		return
	}
	src.Release()
}

func TestReleaseIdempotent(t *testing.T) {
	d := capturetest.NewDriver(320, 240)
	src, err := capture.Acquire(context.Background(), d, capture.DefaultConstraints(), nil)
	if err != nil {
		t.Fatal(err)
	}

	src.Release()
	if src.Active() {
		t.Error("active after first Release")
	}
	src.Release()
	if src.Active() {
		t.Error("active after second Release")
	}
	if src.Frame() != nil {
		t.Error("frame available after Release")
	}
	if !d.Streams()[0].Closed() {
		t.Error("stream not closed")
	}
}

func TestReleaseNilSource(t *testing.T) {
	var src *capture.Source
	src.Release()
	src.Release()
	if src.Active() {
		t.Error("nil source reports active")
	}
	if src.Frame() != nil {
		t.Error("nil source returned a frame")
	}
	if src.Lost() != nil || src.Err() != nil {
		t.Error("nil source reports a loss")
	}
}

func TestFrameUpdates(t *testing.T) {
	d := capturetest.NewDriver(16, 16)
	src, err := capture.Acquire(context.Background(), d, capture.DefaultConstraints(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	first := src.Frame()
	stream := d.Streams()[0]
	stream.Push()

	deadline := time.Now().Add(2 * time.Second)
	for src.Frame() == first {
		if time.Now().After(deadline) {
			t.Fatal("frame never updated")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLost(t *testing.T) {
	d := capturetest.NewDriver(16, 16)
	src, err := capture.Acquire(context.Background(), d, capture.DefaultConstraints(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Release()

	cause := &capture.DeviceError{Kind: capture.ErrDeviceLost, Device: "/dev/fake0", Err: errors.New("device removed")}
	d.Streams()[0].Lose(cause)

	select {
	case <-src.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("Lost() not closed")
	}
	if src.Active() {
		t.Error("active after loss")
	}
	if !errors.Is(src.Err(), capture.ErrDeviceLost) {
		t.Errorf("Err() = %v, want ErrDeviceLost", src.Err())
	}
	if !d.Streams()[0].Closed() {
		t.Error("stream not closed after loss")
	}
}

func TestReleaseIsNotLoss(t *testing.T) {
	d := capturetest.NewDriver(16, 16)
	src, err := capture.Acquire(context.Background(), d, capture.DefaultConstraints(), nil)
	if err != nil {
		t.Fatal(err)
	}
	src.Release()

	select {
	case <-src.Lost():
		t.Fatal("Lost() closed by explicit Release")
	default:
	}
}
