package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/snowmerak/nethost/lib/logging"
	"github.com/snowmerak/nethost/lib/process"
)

const defaultShutdownGrace = 5 * time.Second

// Launcher starts a resolved runtime. args never include the bootstrapper's
// own program name.
type Launcher interface {
	Launch(ctx context.Context, target Target, args []string) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, target Target, args []string) error

func (f LauncherFunc) Launch(ctx context.Context, target Target, args []string) error {
	return f(ctx, target, args)
}

// LoadError reports a runtime that could not be loaded or started. It is
// never retried: a missing or corrupt install does not heal itself.
type LoadError struct {
	Target Target
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s runtime %s: %v", e.Target.Mode, e.Target.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

func checkExecutable(target Target) error {
	info, err := os.Stat(target.Path)
	if err != nil {
		return &LoadError{Target: target, Err: err}
	}
	if info.IsDir() {
		return &LoadError{Target: target, Err: errors.New("target is a directory")}
	}
	return nil
}

// ModeLauncher dispatches to the launcher matching the target's mode.
type ModeLauncher struct {
	InProcess Launcher
	Isolated  Launcher
}

// NewLauncher returns the default dispatch: exec in place for in-process
// modes, a supervised child for isolated mode.
func NewLauncher(logger *zap.Logger) *ModeLauncher {
	return &ModeLauncher{
		InProcess: &ExecLauncher{Logger: logger},
		Isolated:  &ChildLauncher{Logger: logger},
	}
}

func (m *ModeLauncher) Launch(ctx context.Context, target Target, args []string) error {
	switch {
	case target.Mode.InProcess():
		return m.InProcess.Launch(ctx, target, args)
	case target.Mode == ModeIsolated:
		return m.Isolated.Launch(ctx, target, args)
	default:
		return &LoadError{Target: target, Err: fmt.Errorf("unsupported mode %s", target.Mode)}
	}
}

// ChildLauncher runs the target as a child process and blocks until it exits
// or ctx is cancelled. It installs no signal handlers: callers cancel ctx on
// interrupt, and the child is then asked to terminate.
type ChildLauncher struct {
	Logger  *zap.Logger
	Options process.Options

	// ShutdownGrace is how long a cancelled launch waits for the child to
	// exit after sending the terminate signal before killing it.
	ShutdownGrace time.Duration
}

func (l *ChildLauncher) Launch(ctx context.Context, target Target, args []string) error {
	logger := logging.OrNop(l.Logger)

	if err := checkExecutable(target); err != nil {
		return err
	}

	p, err := process.Start(target.Path, args, l.Options)
	if err != nil {
		return &LoadError{Target: target, Err: err}
	}
	logger.Info("runtime started",
		zap.Stringer("mode", target.Mode),
		zap.String("path", target.Path),
		zap.Int("pid", p.Pid()),
	)

	select {
	case <-p.Done():
		if err := p.Wait(); err != nil {
			return fmt.Errorf("runtime %s exited: %w", target.Path, err)
		}
		logger.Info("runtime exited", zap.String("path", target.Path))
		return nil
	case <-ctx.Done():
		l.shutdown(logger, p)
		return nil
	}
}

func (l *ChildLauncher) shutdown(logger *zap.Logger, p *process.Process) {
	grace := l.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}

	if terminateSignal != nil {
		if err := p.Signal(terminateSignal); err != nil {
			logger.Warn("failed to signal runtime", zap.Error(err))
		}
	} else {
		grace = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := p.WaitContext(ctx)
	select {
	case <-p.Done():
	default:
		logger.Error("failed to kill runtime", zap.Error(err))
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("runtime did not exit in time, killed", zap.Duration("grace", grace))
	}
	logger.Info("runtime stopped", zap.Int("exit_code", p.ExitCode()))
}

// ExecLauncher replaces the current process image with the target, so the
// runtime lives in this process. On success Launch never returns. Where exec
// is unavailable it falls back to a ChildLauncher.
type ExecLauncher struct {
	Logger *zap.Logger

	// Env defaults to the current environment.
	Env []string

	execve func(path string, argv, env []string) error
}

func (l *ExecLauncher) Launch(ctx context.Context, target Target, args []string) error {
	logger := logging.OrNop(l.Logger)

	execve := l.execve
	if execve == nil {
		execve = defaultExecve
	}
	if execve == nil {
		logger.Info("exec unavailable, starting runtime as a child process")
		return (&ChildLauncher{Logger: l.Logger}).Launch(ctx, target, args)
	}

	if err := checkExecutable(target); err != nil {
		return err
	}

	env := l.Env
	if env == nil {
		env = os.Environ()
	}
	argv := append([]string{target.Path}, args...)

	logger.Info("loading runtime in process",
		zap.Stringer("mode", target.Mode),
		zap.String("path", target.Path),
	)
	// Nothing is flushed after a successful exec.
	_ = logger.Sync()

	if err := execve(target.Path, argv, env); err != nil {
		return &LoadError{Target: target, Err: err}
	}
	return nil
}
