package capture

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"
	"github.com/pkg/errors"
)

// RemovalWatch listens for the udev remove event of one video device.
type RemovalWatch struct {
	device string
	logger *slog.Logger

	conn    *netlink.UEventConn
	quit    chan struct{}
	removed chan struct{}
	stop    sync.Once
	fired   sync.Once
}

// WatchRemoval starts a netlink monitor for device. Symlinks such as
// /dev/v4l/by-id/... are resolved to their device node first.
func WatchRemoval(device string, logger *slog.Logger) (*RemovalWatch, error) {
	if resolved, err := filepath.EvalSymlinks(device); err == nil {
		device = resolved
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, errors.Wrap(err, "connect netlink socket")
	}

	w := &RemovalWatch{
		device:  device,
		logger:  logger.With("component", "hotplug", "device", device),
		conn:    conn,
		quit:    make(chan struct{}),
		removed: make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Removed is closed once the device disappears.
func (w *RemovalWatch) Removed() <-chan struct{} {
	return w.removed
}

func (w *RemovalWatch) Stop() {
	w.stop.Do(func() {
		close(w.quit)
		_ = w.conn.Close()
	})
}

func (w *RemovalWatch) loop() {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := w.conn.Monitor(queue, errs, removalMatcher())

	for {
		select {
		case <-w.quit:
			close(monitorQuit)
			return
		case ev := <-queue:
			if matchesDevice(ev, w.device) {
				w.logger.Warn("camera removed", "kobj", ev.KObj)
				w.fired.Do(func() { close(w.removed) })
			}
		case err := <-errs:
			w.logger.Warn("netlink monitor error", "error", err)
		}
	}
}

func removalMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

// devnameOf returns the /dev path of a uevent, falling back to the last
// DEVPATH element.
func devnameOf(ev netlink.UEvent) string {
	name := ev.Env["DEVNAME"]
	if name == "" {
		devpath := ev.Env["DEVPATH"]
		if devpath == "" {
			return ""
		}
		parts := strings.Split(devpath, "/")
		name = parts[len(parts)-1]
	}
	if !strings.HasPrefix(name, "/") {
		name = "/dev/" + name
	}
	return name
}

func matchesDevice(ev netlink.UEvent, device string) bool {
	if ev.Action != netlink.REMOVE {
		return false
	}
	name := devnameOf(ev)
	return name != "" && name == device
}
