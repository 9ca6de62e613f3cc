package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/abihf/cinecap"
	"github.com/abihf/cinecap/capture"
	"github.com/abihf/cinecap/config"
	"github.com/abihf/cinecap/export"
	"github.com/abihf/cinecap/hooks"
	"github.com/abihf/cinecap/logging"
	"github.com/abihf/cinecap/protocol"
	"github.com/abihf/cinecap/render"
	"github.com/abihf/cinecap/utils/thread"
)

func main() {
	var configFlag string
	cmd := &cobra.Command{
		Use:           "cinecapd",
		Short:         "Keep a camera session open and capture stills on request",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.Load(configFlag))
		},
	}
	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(conf *config.Config) error {
	logger := logging.New(conf.LogLevel, os.Stderr)
	slog.SetDefault(logger)
	if problems := conf.Validate(); len(problems) > 0 {
		return errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	if err := os.MkdirAll(filepath.Dir(conf.LockFile), 0o755); err != nil {
		return errors.Wrap(err, "Can not create lock dir")
	}
	lock := flock.New(conf.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return errors.Wrap(err, "Can not acquire lock")
	}
	if !ok {
		return errors.New("already run")
	}
	defer lock.Unlock()

	sched := newScheduler(conf, logger)
	defer sched.Close()

	session, err := cinecap.New(cinecap.Options{
		Driver: &capture.WebcamDriver{
			Devices: conf.DeviceMap(),
			Warmup:  conf.Warmup,
			Hotplug: conf.HotplugEnabled(),
			Logger:  logging.Component(logger, "webcam"),
		},
		Constraints: conf.Constraints(),
		Scheduler:   sched,
		Surface:     render.NewCanvas(0, 0),
		Viewport:    render.FixedViewport(image.Pt(conf.PreviewWidth, conf.PreviewHeight)),
		Sink:        &export.DirSink{Dir: conf.OutputDir, Overwrite: conf.Overwrite},
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	link := &hooks.LinkOpener{URL: conf.CaptureLink, Command: conf.LinkCommand, Logger: logging.Component(logger, "hooks")}
	link.Attach(session)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = session.Mount(ctx)
	cancel()
	if err != nil {
		logger.Warn("Camera not available yet, will retry on first capture", "error", err)
	}

	os.Remove(conf.Socket)
	if err := os.MkdirAll(filepath.Dir(conf.Socket), 0o755); err != nil {
		return errors.Wrap(err, "Can not create socket dir")
	}
	ln, err := net.Listen("unix", conf.Socket)
	if err != nil {
		return errors.Wrap(err, "Listen error")
	}
	defer ln.Close()
	defer os.Remove(conf.Socket)

	os.Chmod(conf.Socket, 0666)

	srv := &server{session: session, logger: logging.Component(logger, "server")}
	go srv.accept(ln)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	daemon.SdNotify(false, daemon.SdNotifyReady)
	sig := <-sigc
	logger.Info("Caught signal, shutting down", "signal", sig.String())
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	return nil
}

func newScheduler(conf *config.Config, logger *slog.Logger) *render.TickerScheduler {
	core := conf.Core()
	if core < 0 {
		return render.NewTickerScheduler(conf.FPS)
	}
	return render.NewTickerScheduler(conf.FPS, render.WithThreadPin(func() {
		if err := thread.Pin(core); err != nil {
			logger.Warn("Can not pin render thread", "core", core, "error", err)
		}
	}))
}

// session is what the socket server needs from cinecap.Session.
type session interface {
	Mount(ctx context.Context) error
	Capture() (*export.Artifact, error)
	State() cinecap.State
	Source() *capture.Source
}

type server struct {
	session session
	logger  *slog.Logger
}

func (s *server) accept(ln net.Listener) {
	for {
		fd, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Error("Accept error", "error", err)
			}
			return
		}
		go s.handle(fd)
	}
}

func (s *server) handle(c net.Conn) {
	defer c.Close()

	for {
		req, err := protocol.ReadReq(c)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("Can not read request", "error", err)
			}
			return
		}

		var extras map[string]string
		switch req.Action {
		case protocol.ActionCapture:
			extras, err = s.capture()
		case protocol.ActionStatus:
			extras = s.status()
		default:
			err = errors.Errorf("unknown action %q", req.Action)
		}

		if err != nil {
			s.logger.Warn("Request failed", "action", req.Action, "error", err)
			err = protocol.WriteErrorRes(c, err)
		} else {
			err = protocol.WriteSuccessRes(c, extras)
		}
		if err != nil {
			return
		}
	}
}

// capture remounts a session that lost its camera, since a capture request
// is an explicit user action.
func (s *server) capture() (map[string]string, error) {
	if s.session.State() != cinecap.Active {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.session.Mount(ctx)
		cancel()
		if err != nil {
			return nil, err
		}
	}

	art, err := s.session.Capture()
	if err != nil {
		return nil, err
	}
	return protocol.CaptureResult{
		Path:   art.Location,
		Width:  art.Width,
		Height: art.Height,
		Bytes:  len(art.Data),
		Op:     art.Operation,
	}.Extras(), nil
}

func (s *server) status() map[string]string {
	src := s.session.Source()
	size := src.NativeSize()
	return map[string]string{
		"state":  s.session.State().String(),
		"device": src.Device(),
		"width":  strconv.Itoa(size.X),
		"height": strconv.Itoa(size.Y),
	}
}
