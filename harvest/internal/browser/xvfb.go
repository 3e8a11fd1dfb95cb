package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"
)

// x11SocketDir is where an X server creates its listening socket.
var x11SocketDir = "/tmp/.X11-unix"

const xvfbReadyTimeout = 10 * time.Second

var displayRe = regexp.MustCompile(`^:(\d+)(?:\.\d+)?$`)

// xvfbProc is a running Xvfb server. done closes when the process exits.
type xvfbProc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// displaySocket returns the socket path of a local display such as ":99".
func displaySocket(display string) (string, error) {
	m := displayRe.FindStringSubmatch(display)
	if m == nil {
		return "", fmt.Errorf("xvfb: display %q is not a local display like :99", display)
	}
	return filepath.Join(x11SocketDir, "X"+m[1]), nil
}

// waitSocket polls until path exists, the server exits or timeout passes.
func waitSocket(path string, exited <-chan struct{}, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-exited:
			return errors.New("xvfb: exited before the display came up")
		case <-deadline.C:
			return fmt.Errorf("xvfb: %s not ready after %s", path, timeout)
		case <-tick.C:
		}
	}
}

// startXvfb launches a virtual display sized to the configured viewport and
// returns once the server accepts connections.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}

	display := m.cfg.XvfbDisplay
	sock, err := displaySocket(display)
	if err != nil {
		return err
	}
	if _, err := os.Stat(sock); err == nil {
		return fmt.Errorf("xvfb: display %s already in use", display)
	}

	screen := fmt.Sprintf("%dx%dx24", m.cfg.Width, m.cfg.Height)
	cmd := exec.Command("Xvfb", display, "-screen", "0", screen, "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	p := &xvfbProc{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(p.done)
	}()

	if err := waitSocket(sock, p.done, xvfbReadyTimeout); err != nil {
		p.stop()
		return err
	}
	m.xvfb = p
	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (p *xvfbProc) stop() {
	select {
	case <-p.done:
		return
	default:
	}
	p.cmd.Process.Kill()
	<-p.done
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	m.xvfb.stop()
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
}
