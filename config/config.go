package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/abihf/cinecap/capture"
)

const DefaultPath = "/etc/cinecap/config.toml"

type Config struct {
	// Devices maps a facing ("environment", "user") to a V4L2 node.
	Devices       map[string]string `toml:"devices"`
	Facing        string            `toml:"facing"`
	IdealWidth    uint32            `toml:"ideal_width"`
	IdealHeight   uint32            `toml:"ideal_height"`
	FPS           int               `toml:"fps"`
	Warmup        int               `toml:"warmup_frames"`
	Hotplug       *bool             `toml:"hotplug"`
	PreviewWidth  int               `toml:"preview_width"`
	PreviewHeight int               `toml:"preview_height"`
	RenderCore    *int              `toml:"render_core"`
	OutputDir     string            `toml:"output_dir"`
	Overwrite     bool              `toml:"overwrite"`
	CaptureLink   string            `toml:"capture_link"`
	LinkCommand   string            `toml:"link_command"`
	Socket        string            `toml:"socket"`
	LockFile      string            `toml:"lock_file"`
	LogLevel      string            `toml:"log_level"`
}

// Load reads path, or DefaultPath when empty. A missing or broken file is
// not fatal: it is logged and defaults are used.
func Load(path string) *Config {
	if path == "" {
		path = DefaultPath
	}
	conf, err := loadFromFile(path)
	if err != nil {
		slog.Warn("Failed to load config file", "path", path, "error", err)
	}
	if conf == nil {
		conf = &Config{}
	}
	conf.applyDefaults()
	return conf
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := &Config{}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if len(c.Devices) == 0 {
		c.Devices = map[string]string{string(capture.FacingEnvironment): "/dev/video0"}
	}
	if c.Facing == "" {
		c.Facing = string(capture.FacingEnvironment)
	}
	if c.IdealWidth == 0 {
		c.IdealWidth = 4096
	}
	if c.IdealHeight == 0 {
		c.IdealHeight = 2160
	}
	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.Warmup == 0 {
		c.Warmup = 5
	}
	if c.Hotplug == nil {
		on := true
		c.Hotplug = &on
	}
	if c.PreviewWidth == 0 {
		c.PreviewWidth = 1280
	}
	if c.PreviewHeight == 0 {
		c.PreviewHeight = 720
	}
	if c.RenderCore == nil {
		none := -1
		c.RenderCore = &none
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Socket == "" {
		c.Socket = "/run/cinecap/cinecap.sock"
	}
	if c.LockFile == "" {
		c.LockFile = "/run/cinecap/cinecap.lock"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate returns every problem found, or nil.
func (c *Config) Validate() []string {
	var problems []string
	facing := capture.Facing(c.Facing)
	if facing != capture.FacingEnvironment && facing != capture.FacingUser {
		problems = append(problems, fmt.Sprintf("facing %q must be environment or user", c.Facing))
	}
	for name, dev := range c.Devices {
		f := capture.Facing(name)
		if f != capture.FacingEnvironment && f != capture.FacingUser {
			problems = append(problems, fmt.Sprintf("devices: unknown facing %q", name))
		}
		if !strings.HasPrefix(dev, "/") {
			problems = append(problems, fmt.Sprintf("devices.%s: %q is not an absolute path", name, dev))
		}
	}
	if c.FPS < 1 || c.FPS > 240 {
		problems = append(problems, fmt.Sprintf("fps %d out of range 1-240", c.FPS))
	}
	if c.PreviewWidth < 1 || c.PreviewHeight < 1 {
		problems = append(problems, "preview size must be positive")
	}
	if c.Warmup < 0 {
		problems = append(problems, "warmup_frames must not be negative")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}
	if c.CaptureLink != "" && !strings.HasPrefix(c.CaptureLink, "http://") && !strings.HasPrefix(c.CaptureLink, "https://") {
		problems = append(problems, fmt.Sprintf("capture_link %q must be an http(s) URL", c.CaptureLink))
	}
	return problems
}

// Constraints converts the camera preferences.
func (c *Config) Constraints() capture.Constraints {
	return capture.Constraints{
		IdealWidth:  c.IdealWidth,
		IdealHeight: c.IdealHeight,
		Facing:      capture.Facing(c.Facing),
	}
}

// DeviceMap converts Devices for capture.WebcamDriver.
func (c *Config) DeviceMap() map[capture.Facing]string {
	m := make(map[capture.Facing]string, len(c.Devices))
	for name, dev := range c.Devices {
		m[capture.Facing(name)] = dev
	}
	return m
}

// HotplugEnabled reports whether removal events are watched.
func (c *Config) HotplugEnabled() bool {
	return c.Hotplug == nil || *c.Hotplug
}

// Core is the CPU the render thread is pinned to, or -1.
func (c *Config) Core() int {
	if c.RenderCore == nil {
		return -1
	}
	return *c.RenderCore
}
