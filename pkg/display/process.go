package display

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// Process is a handle to one launched display-stack process.
type Process interface {
	Stop() error
	Running() bool
}

// Launcher spawns display-stack processes (Xvfb, x11vnc, websockify). It is
// an interface so tests can run without an X stack installed.
type Launcher interface {
	Launch(name string, args ...string) (Process, error)
}

// ExecLauncher launches real processes via os/exec.
type ExecLauncher struct{}

func (ExecLauncher) Launch(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)

	err := cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	proc := &execProcess{cmd: cmd, done: make(chan struct{})}

	go func() {
		_ = cmd.Wait()
		close(proc.done)
	}()

	return proc, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *execProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *execProcess) Stop() error {
	if !p.Running() {
		return nil
	}

	err := p.cmd.Process.Signal(syscall.SIGTERM)
	if err != nil {
		return p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
		return p.cmd.Process.Kill()
	}
}
