//go:build linux

package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	screenSaverInterface = "org.freedesktop.ScreenSaver"
	screenSaverMember    = "ActiveChanged"
)

// DesktopSource observes desktop-session signals over the D-Bus session
// bus. Screensaver/lock activation means the exam surface no longer has
// the user's screen, which is reported as a window-blur signal.
type DesktopSource struct {
	mu sync.Mutex

	logger *slog.Logger

	conn    *dbus.Conn
	busCh   chan *dbus.Signal
	signals chan Signal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDesktopSource creates the Linux desktop source.
func NewDesktopSource(logger *slog.Logger) *DesktopSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &DesktopSource{
		logger:  logger.With("component", "desktop_source"),
		signals: make(chan Signal, 10),
	}
}

// Available reports whether a session bus can be reached.
func (s *DesktopSource) Available() (bool, string) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return false, "session bus unavailable: " + err.Error()
	}
	conn.Close()
	return true, "desktop source on session bus"
}

// Start subscribes to screensaver state changes.
func (s *DesktopSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return err
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(screenSaverInterface),
		dbus.WithMatchMember(screenSaverMember),
	); err != nil {
		conn.Close()
		return err
	}

	s.conn = conn
	s.busCh = make(chan *dbus.Signal, 10)
	conn.Signal(s.busCh)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.busLoop()

	return nil
}

// Stop disconnects from the bus. Safe when not started.
func (s *DesktopSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.RemoveSignal(s.busCh)
		s.conn.Close()
		s.conn = nil
	}
	s.wg.Wait()
	return nil
}

// Signals returns the signal channel.
func (s *DesktopSource) Signals() <-chan Signal {
	return s.signals
}

// busLoop converts bus signals into capture signals.
func (s *DesktopSource) busLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case sig, ok := <-s.busCh:
			if !ok {
				return
			}
			if sig.Name != screenSaverInterface+"."+screenSaverMember {
				continue
			}
			active, ok := signalBodyBool(sig.Body)
			if !ok || !active {
				// Only activation matters: the screen left the exam.
				continue
			}

			out := Signal{
				Type:      SignalWindowBlur,
				Timestamp: time.Now(),
				Details: map[string]string{
					"source": "dbus_screensaver",
				},
			}
			select {
			case s.signals <- out:
			default:
				s.logger.Warn("signal channel full, dropping screensaver signal")
			}
		}
	}
}

// signalBodyBool extracts the boolean payload of an ActiveChanged signal.
func signalBodyBool(body []interface{}) (bool, bool) {
	if len(body) == 0 {
		return false, false
	}
	b, ok := body[0].(bool)
	return b, ok
}
