// Package capture acquires live camera streams and exposes their latest frame.
package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrDeviceUnavailable = errors.New("camera unavailable")
	ErrDeviceLost        = errors.New("camera lost")
)

type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

// Constraints is a preference, not a requirement: drivers pick the closest
// mode the device offers.
type Constraints struct {
	IdealWidth  uint32
	IdealHeight uint32
	Facing      Facing
}

// DefaultConstraints asks for a 4K rear camera.
func DefaultConstraints() Constraints {
	return Constraints{
		IdealWidth:  4096,
		IdealHeight: 2160,
		Facing:      FacingEnvironment,
	}
}

// Driver opens video-only streams.
type Driver interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open camera. ReadFrame blocks until the next decoded frame;
// returned images are never written again. Close stops every track.
type Stream interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Device() string
	Close() error
}

// DeviceError ties a failure to a device and to one of the Err* kinds.
type DeviceError struct {
	Kind   error
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// classify maps a platform error to a DeviceError kind.
func classify(device string, err error) error {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	kind := ErrDeviceUnavailable
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		kind = ErrPermissionDenied
	}
	return &DeviceError{Kind: kind, Device: device, Err: err}
}
