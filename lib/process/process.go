// Package process starts and supervises the runtime as a child process.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// ErrKilled is returned by Wait when the child was terminated by Kill.
var ErrKilled = errors.New("child process was killed")

// Options configures the child. Zero values inherit from the current process.
type Options struct {
	Dir    string
	Env    []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

type Process struct {
	cmd *exec.Cmd

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}

	mu     sync.Mutex
	killed bool
}

// Start launches path with args. The child inherits the current stdio and
// environment unless opts say otherwise.
func Start(path string, args []string, opts Options) (*Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.Stdin = orReader(opts.Stdin, os.Stdin)
	cmd.Stdout = orWriter(opts.Stdout, os.Stdout)
	cmd.Stderr = orWriter(opts.Stderr, os.Stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	p := &Process{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.mu.Lock()
		killed := p.killed
		p.mu.Unlock()
		switch {
		case err != nil && killed:
			p.waitErr = ErrKilled
		case err != nil:
			p.waitErr = fmt.Errorf("process exited with error: %w", err)
		}
		close(p.done)
	})
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child exits and returns its exit error, if any.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// WaitContext is Wait that gives up, killing the child, when ctx ends.
func (p *Process) WaitContext(ctx context.Context) error {
	select {
	case <-p.done:
		return p.waitErr
	case <-ctx.Done():
		if err := p.Kill(); err != nil {
			return fmt.Errorf("failed to kill process: %w", err)
		}
		<-p.done
		return ctx.Err()
	}
}

// Signal forwards sig to the child.
func (p *Process) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Signal(sig)
}

// Kill terminates the child immediately.
func (p *Process) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// ExitCode returns the exit code, or -1 while the child is running.
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
		return p.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

func orReader(r, def io.Reader) io.Reader {
	if r == nil {
		return def
	}
	return r
}

func orWriter(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
