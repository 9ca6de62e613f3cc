package capture

import (
	"context"
	"image"
	"log/slog"
	"math"
	"path/filepath"
	"sort"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	defaultBufferCount = 4
	waitTimeoutSeconds = 1
)

// WebcamDriver opens V4L2 devices. Devices maps a facing to a device node;
// the preferred facing is tried first and the others are fallbacks.
type WebcamDriver struct {
	Devices     map[Facing]string
	BufferCount uint32
	// Warmup is the number of leading dark frames dropped after streaming
	// starts.
	Warmup      int
	Hotplug     bool
	Logger      *slog.Logger
}

func (d *WebcamDriver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.Logger
}

func (d *WebcamDriver) candidates(preferred Facing) []string {
	var out []string
	if path, ok := d.Devices[preferred]; ok && path != "" {
		out = append(out, path)
	}
	others := make([]string, 0, len(d.Devices))
	for facing, path := range d.Devices {
		if facing != preferred && path != "" {
			others = append(others, string(facing))
		}
	}
	sort.Strings(others)
	for _, facing := range others {
		out = append(out, d.Devices[Facing(facing)])
	}
	return out
}

func (d *WebcamDriver) Open(ctx context.Context, c Constraints) (Stream, error) {
	candidates := d.candidates(c.Facing)
	if len(candidates) == 0 {
		return nil, &DeviceError{Kind: ErrDeviceUnavailable, Err: errors.New("no camera configured")}
	}

	var first error
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, classify(path, err)
		}
		s, err := d.open(path, c)
		if err == nil {
			return s, nil
		}
		d.logger().Warn("camera open failed", "device", path, "error", err)
		if first == nil {
			first = err
		}
	}
	return nil, first
}

func (d *WebcamDriver) open(path string, c Constraints) (*webcamStream, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, classify(path, errors.Wrap(err, "can not open device"))
	}

	format, ok := chooseFormat(cam.GetSupportedFormats())
	if !ok {
		cam.Close()
		return nil, &DeviceError{Kind: ErrDeviceUnavailable, Device: path, Err: errors.New("no supported pixel format")}
	}
	width, height, ok := chooseSize(cam.GetSupportedFrameSizes(format), c.IdealWidth, c.IdealHeight)
	if !ok {
		cam.Close()
		return nil, &DeviceError{Kind: ErrDeviceUnavailable, Device: path, Err: errors.New("no frame sizes reported")}
	}

	format, width, height, err = cam.SetImageFormat(format, width, height)
	if err != nil {
		cam.Close()
		return nil, classify(path, errors.Wrap(err, "can not set image format"))
	}

	count := d.BufferCount
	if count == 0 {
		count = defaultBufferCount
	}
	if err := cam.SetBufferCount(count); err != nil {
		cam.Close()
		return nil, classify(path, errors.Wrap(err, "can not set buffer count"))
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return nil, classify(path, errors.Wrap(err, "can not start streaming"))
	}

	s := &webcamStream{
		cam:    cam,
		path:   path,
		format: format,
		width:  int(width),
		height: int(height),
		warmup: d.Warmup,
		logger: d.logger().With("device", path),
	}
	if d.Hotplug {
		w, err := WatchRemoval(path, d.logger())
		if err != nil {
			s.logger.Warn("hotplug monitor unavailable; device loss detected on read errors only", "error", err)
		} else {
			s.removal = w
		}
	}

	s.logger.Info("camera streaming",
		"format", formatName(format),
		"width", width,
		"height", height,
	)
	return s, nil
}

type webcamStream struct {
	cam     *webcam.Webcam
	path    string
	format  webcam.PixelFormat
	width   int
	height  int
	warmup  int
	removal *RemovalWatch
	logger  *slog.Logger
}

func (s *webcamStream) Device() string {
	return s.path
}

func (s *webcamStream) removed() <-chan struct{} {
	if s.removal == nil {
		return nil
	}
	return s.removal.Removed()
}

func (s *webcamStream) ReadFrame(ctx context.Context) (image.Image, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.removed():
			return nil, &DeviceError{Kind: ErrDeviceLost, Device: s.path, Err: errors.New("device removed")}
		default:
		}

		err := s.cam.WaitForFrame(waitTimeoutSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return nil, s.readError(errors.Wrap(err, "frame wait failed"))
		}

		frame, err := s.cam.ReadFrame()
		if err != nil {
			return nil, s.readError(errors.Wrap(err, "read frame failed"))
		}
		if len(frame) == 0 {
			continue
		}

		if s.warmup > 0 {
			s.warmup--
			if isDarkFrame(s.format, frame) {
				continue
			}
			s.warmup = 0
		}

		img, err := decodeFrame(s.format, frame, s.width, s.height)
		if err != nil {
			s.logger.Debug("dropping undecodable frame", "error", err)
			continue
		}
		return img, nil
	}
}

func (s *webcamStream) readError(err error) error {
	if errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENXIO) || errors.Is(err, unix.EIO) {
		return &DeviceError{Kind: ErrDeviceLost, Device: s.path, Err: err}
	}
	return err
}

func (s *webcamStream) Close() error {
	if s.removal != nil {
		s.removal.Stop()
	}
	if err := s.cam.StopStreaming(); err != nil {
		s.logger.Debug("stop streaming", "error", err)
	}
	return s.cam.Close()
}

func chooseFormat(supported map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	for _, f := range preferredFormats {
		if _, ok := supported[f]; ok {
			return f, true
		}
	}
	return 0, false
}

// chooseSize picks the mode with the smallest fitness distance to the ideal
// size, the same metric browsers use for ideal constraints. Ties go to the
// larger mode.
func chooseSize(sizes []webcam.FrameSize, idealW, idealH uint32) (uint32, uint32, bool) {
	var bestW, bestH uint32
	best := -1.0
	for _, fs := range sizes {
		w := fit(idealW, fs.MinWidth, fs.MaxWidth, fs.StepWidth)
		h := fit(idealH, fs.MinHeight, fs.MaxHeight, fs.StepHeight)
		if w == 0 || h == 0 {
			continue
		}
		d := distance(w, idealW) + distance(h, idealH)
		if best < 0 || d < best || (d == best && w*h > bestW*bestH) {
			best, bestW, bestH = d, w, h
		}
	}
	return bestW, bestH, best >= 0
}

// fit clamps ideal into a discrete or stepwise range.
func fit(ideal, lo, hi, step uint32) uint32 {
	if step == 0 || lo == hi {
		return hi
	}
	if ideal <= lo {
		return lo
	}
	if ideal >= hi {
		return hi
	}
	return lo + (ideal-lo)/step*step
}

func distance(actual, ideal uint32) float64 {
	if ideal == 0 || actual == ideal {
		return 0
	}
	a, i := float64(actual), float64(ideal)
	return math.Abs(a-i) / max(a, i)
}

func formatName(f webcam.PixelFormat) string {
	v := uint32(f)
	return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// FormatInfo describes one pixel format exposed by a device.
type FormatInfo struct {
	Code        string
	Description string
	Decodable   bool
	Sizes       []string
}

type DeviceInfo struct {
	Path    string
	Formats []FormatInfo
}

// Probe lists the formats and frame sizes a device reports.
func Probe(path string) (*DeviceInfo, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	cam, err := webcam.Open(resolved)
	if err != nil {
		return nil, classify(path, errors.Wrap(err, "can not open device"))
	}
	defer cam.Close()

	info := &DeviceInfo{Path: path}
	for format, desc := range cam.GetSupportedFormats() {
		fi := FormatInfo{Code: formatName(format), Description: desc}
		for _, pf := range preferredFormats {
			if pf == format {
				fi.Decodable = true
			}
		}
		for _, fs := range cam.GetSupportedFrameSizes(format) {
			fi.Sizes = append(fi.Sizes, fs.GetString())
		}
		info.Formats = append(info.Formats, fi)
	}
	sort.Slice(info.Formats, func(i, j int) bool { return info.Formats[i].Code < info.Formats[j].Code })
	return info, nil
}
