// Package logind ties host suspend to Wi-Fi host sleep through
// systemd-logind's PrepareForSleep signal and a delay inhibitor.
package logind

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	loginService   = "org.freedesktop.login1"
	loginPath      = "/org/freedesktop/login1"
	loginInterface = "org.freedesktop.login1.Manager"
	prepareSignal  = loginInterface + ".PrepareForSleep"

	// suspendTimeout stays below logind's default InhibitDelayMaxSec
	suspendTimeout = 4 * time.Second
)

var logger = logrus.WithField("module", "logind")

// Suspender is the host-sleep side of the connection manager
type Suspender interface {
	PrepareSuspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Watcher arms host sleep before the system suspends and cancels it
// after resume
type Watcher struct {
	suspender Suspender
	inhibit   func() (io.Closer, error)
	lock      io.Closer
}

// NewWatcher creates a watcher; inhibit takes a fresh delay lock
func NewWatcher(s Suspender, inhibit func() (io.Closer, error)) *Watcher {
	return &Watcher{suspender: s, inhibit: inhibit}
}

// Run subscribes to PrepareForSleep on conn and handles signals until ctx is done
func Run(ctx context.Context, conn *dbus.Conn, s Suspender) error {
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(loginInterface),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return fmt.Errorf("failed to subscribe to PrepareForSleep: %w", err)
	}

	login := conn.Object(loginService, loginPath)
	w := NewWatcher(s, func() (io.Closer, error) {
		var fd dbus.UnixFD
		err := login.Call(loginInterface+".Inhibit", 0,
			"sleep", "wlcmgr", "Arm Wi-Fi host sleep", "delay").Store(&fd)
		if err != nil {
			return nil, err
		}
		return fdCloser(fd), nil
	})
	w.takeLock()

	ch := make(chan *dbus.Signal, 4)
	conn.Signal(ch)
	defer conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			w.releaseLock()
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if sig.Name != prepareSignal || len(sig.Body) == 0 {
				continue
			}
			if goingToSleep, ok := sig.Body[0].(bool); ok {
				w.Handle(goingToSleep)
			}
		}
	}
}

// Handle reacts to one PrepareForSleep signal
func (w *Watcher) Handle(goingToSleep bool) {
	if goingToSleep {
		logger.Info("System going to sleep")
		ctx, cancel := context.WithTimeout(context.Background(), suspendTimeout)
		err := w.suspender.PrepareSuspend(ctx)
		cancel()
		if err != nil {
			// The delay lock cannot veto suspend; the link will drop instead.
			logger.WithError(err).Warn("Host sleep not armed")
		} else {
			logger.Info("Host sleep armed")
		}
		w.releaseLock()
		return
	}

	logger.Info("System resumed from sleep")
	ctx, cancel := context.WithTimeout(context.Background(), suspendTimeout)
	defer cancel()
	if err := w.suspender.Resume(ctx); err != nil {
		logger.WithError(err).Warn("Failed to cancel host sleep")
	}
	w.takeLock()
}

func (w *Watcher) takeLock() {
	if w.lock != nil {
		return
	}
	lock, err := w.inhibit()
	if err != nil {
		logger.WithError(err).Warn("Cannot take sleep inhibitor")
		return
	}
	w.lock = lock
}

func (w *Watcher) releaseLock() {
	if w.lock == nil {
		return
	}
	if err := w.lock.Close(); err != nil {
		logger.WithError(err).Debug("Failed to release sleep inhibitor")
	}
	w.lock = nil
}

type fdCloser dbus.UnixFD

func (f fdCloser) Close() error {
	return unix.Close(int(f))
}
