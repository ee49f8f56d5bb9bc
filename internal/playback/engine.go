package playback

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// Process is one running player.
type Process interface {
	Pid() int
	// Terminate asks the player to exit (SIGTERM).
	Terminate() error
	// Kill forces the player to exit (SIGKILL).
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Err is the exit error; valid after Done is closed.
	Err() error
}

// Engine starts players.
type Engine interface {
	Spawn(file, device string) (Process, error)
	// KillAll kills every player instance on the host, ours or not.
	KillAll() error
}

// ExecEngine runs an ALSA command line player such as aplay.
type ExecEngine struct {
	Player      string
	MaxFileTime int // seconds, 0 = no limit
}

func (e *ExecEngine) Spawn(file, device string) (Process, error) {
	args := []string{}
	if device != "" {
		args = append(args, "-D", device)
	}
	if e.MaxFileTime > 0 {
		args = append(args, "--max-file-time="+strconv.Itoa(e.MaxFileTime))
	}
	args = append(args, file)

	cmd := exec.Command(e.Player, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.Player, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// KillAll runs pkill -9 against the player name. No matching process is not an error.
func (e *ExecEngine) KillAll() error {
	err := exec.Command("pkill", "-9", "-x", e.Player).Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pkill %s: %w", e.Player, err)
	}
	return nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Terminate() error { return p.signal(syscall.SIGTERM) }

func (p *execProcess) Kill() error { return p.signal(syscall.SIGKILL) }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	<-p.done
	return p.err
}

func (p *execProcess) signal(sig os.Signal) error {
	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
