package main

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/abihf/cinecap"
	"github.com/abihf/cinecap/capture"
	"github.com/abihf/cinecap/config"
	"github.com/abihf/cinecap/export"
	"github.com/abihf/cinecap/hooks"
	"github.com/abihf/cinecap/logging"
	"github.com/abihf/cinecap/render"
	"github.com/abihf/cinecap/utils/thread"
)

type commandContext struct {
	socketFlag *string
	configFlag *string
	levelFlag  *string

	once   sync.Once
	config *config.Config
	logger *slog.Logger
}

func newCommandContext(socketFlag, configFlag, levelFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
		levelFlag:  levelFlag,
	}
}

func (c *commandContext) load() {
	c.once.Do(func() {
		c.config = config.Load(strings.TrimSpace(*c.configFlag))
		level := c.config.LogLevel
		if *c.levelFlag != "" {
			level = *c.levelFlag
		}
		c.logger = logging.New(level, os.Stderr)
		slog.SetDefault(c.logger)
	})
}

func (c *commandContext) conf() *config.Config {
	c.load()
	return c.config
}

func (c *commandContext) log() *slog.Logger {
	c.load()
	return c.logger
}

func (c *commandContext) socketPath() string {
	if s := strings.TrimSpace(*c.socketFlag); s != "" {
		return s
	}
	return c.conf().Socket
}

// sessionParts are the pieces a command supplies to newSession.
type sessionParts struct {
	scheduler render.Scheduler
	surface   render.Surface
	viewport  render.Viewport
	outputDir string
}

// newSession validates the config and wires a session with the webcam
// driver, a directory sink and the capture link hook.
func (c *commandContext) newSession(parts sessionParts) (*cinecap.Session, error) {
	conf := c.conf()
	if problems := conf.Validate(); len(problems) > 0 {
		return nil, errors.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	logger := c.log()

	dir := parts.outputDir
	if dir == "" {
		dir = conf.OutputDir
	}
	s, err := cinecap.New(cinecap.Options{
		Driver: &capture.WebcamDriver{
			Devices: conf.DeviceMap(),
			Warmup:  conf.Warmup,
			Hotplug: conf.HotplugEnabled(),
			Logger:  logging.Component(logger, "webcam"),
		},
		Constraints: conf.Constraints(),
		Scheduler:   parts.scheduler,
		Surface:     parts.surface,
		Viewport:    parts.viewport,
		Sink:        &export.DirSink{Dir: dir, Overwrite: conf.Overwrite},
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	link := &hooks.LinkOpener{
		URL:     conf.CaptureLink,
		Command: conf.LinkCommand,
		Logger:  logging.Component(logger, "hooks"),
	}
	link.Attach(s)
	return s, nil
}

// tickerScheduler ticks at the configured rate, pinned to render_core when
// one is set.
func (c *commandContext) tickerScheduler() *render.TickerScheduler {
	conf := c.conf()
	var opts []render.TickerOption
	if core := conf.Core(); core >= 0 {
		logger := c.log()
		opts = append(opts, render.WithThreadPin(func() {
			if err := thread.Pin(core); err != nil {
				logger.Warn("Can not pin render thread", "core", core, "error", err)
			}
		}))
	}
	return render.NewTickerScheduler(conf.FPS, opts...)
}
