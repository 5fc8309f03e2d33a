package main

import (
	"log/slog"

	"github.com/coreos/go-systemd/daemon"
)

// sdNotify reports state to systemd when running under a Type=notify unit.
// Outside systemd it is a no-op.
func sdNotify(l *slog.Logger, state string) {
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		l.Warn("sd_notify_error", "state", state, "error", err)
		return
	}
	if ok {
		l.Debug("sd_notify", "state", state)
	}
}
