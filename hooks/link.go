// Package hooks holds side effects that react to session events.
package hooks

import (
	"log/slog"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/abihf/cinecap"
)

const defaultOpener = "xdg-open"

// LinkOpener opens URL in the desktop browser every time a capture is
// triggered. It never waits for the browser.
type LinkOpener struct {
	URL     string
	// Command is the opener binary. Defaults to xdg-open.
	Command string
	Logger  *slog.Logger

	// start launches the command. Tests replace it.
	start func(name string, args ...string) error
}

// Attach subscribes the opener to s. With no URL configured nothing is
// subscribed and the returned func does nothing.
func (o *LinkOpener) Attach(s *cinecap.Session) (detach func()) {
	if o.URL == "" {
		return func() {}
	}
	return s.Subscribe(o.Handle)
}

// Handle reacts to EventCapture and ignores everything else.
func (o *LinkOpener) Handle(ev cinecap.Event) {
	if ev.Kind != cinecap.EventCapture || o.URL == "" {
		return
	}
	name := o.Command
	if name == "" {
		name = defaultOpener
	}
	start := o.start
	if start == nil {
		start = startDetached
	}
	if err := start(name, o.URL); err != nil {
		o.logger().Warn("can not open capture link", "url", o.URL, "error", err)
		return
	}
	o.logger().Debug("capture link opened", "url", o.URL, "event", ev.ID)
}

func (o *LinkOpener) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", name)
	}
	go cmd.Wait()
	return nil
}
