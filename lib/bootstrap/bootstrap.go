// Package bootstrap runs the startup sequence: warm the page cache, pick the
// runtime variant, locate the toolchain and hand control to the runtime.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/snowmerak/nethost/lib/config"
	"github.com/snowmerak/nethost/lib/launch"
	"github.com/snowmerak/nethost/lib/logging"
	"github.com/snowmerak/nethost/lib/metrics"
	"github.com/snowmerak/nethost/lib/preload"
	"github.com/snowmerak/nethost/lib/rootdir"
)

type Option func(*Bootstrapper)

func WithLogger(l *zap.Logger) Option {
	return func(b *Bootstrapper) { b.logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bootstrapper) { b.metrics = m }
}

func WithLauncher(l launch.Launcher) Option {
	return func(b *Bootstrapper) { b.launcher = l }
}

// WithWorkingDir sets where the toolchain root search starts. It defaults to
// the process working directory.
func WithWorkingDir(dir string) Option {
	return func(b *Bootstrapper) { b.workingDir = dir }
}

// WithGOOS overrides the platform used for executable names and the default
// preload list.
func WithGOOS(goos string) Option {
	return func(b *Bootstrapper) { b.goos = goos }
}

// WithPreloadFiles replaces the preload list derived from the config. An
// empty list skips preloading.
func WithPreloadFiles(files []string) Option {
	return func(b *Bootstrapper) { b.preloadFiles = files }
}

type Bootstrapper struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	launcher     launch.Launcher
	workingDir   string
	goos         string
	preloadFiles []string
}

func New(cfg config.Config, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		cfg:    cfg,
		logger: zap.NewNop(),
		goos:   runtime.GOOS,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.launcher == nil {
		b.launcher = launch.NewLauncher(b.logger.Named("launch"))
	}
	if b.preloadFiles == nil {
		b.preloadFiles = preload.FilesFor(b.cfg.PreloadDir, b.goos)
	}
	return b
}

// Run launches the configured runtime with args, which must not include the
// program name. A missing worker runtime setting is not an error: there is
// nothing to launch and Run returns nil. Every other failure, including a
// panic, is logged and returned.
func (b *Bootstrapper) Run(ctx context.Context, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bootstrap panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("bootstrap panicked: %v", r)
		}
	}()

	var preloaded <-chan preload.Result
	if len(b.preloadFiles) > 0 {
		p := preload.New(b.preloadFiles,
			preload.WithLogger(b.logger.Named("preload")),
			preload.WithMetrics(b.metrics),
		)
		preloaded = p.Start(ctx)
	}

	target, err := b.resolve()
	if errors.Is(err, launch.ErrWorkerRuntimeMissing) {
		b.logger.Info("worker runtime not configured, nothing to launch",
			zap.String("env", config.EnvWorkerRuntime))
		return nil
	}
	if err != nil {
		b.logger.Error("failed to resolve runtime", zap.Error(err))
		return err
	}

	b.waitPreload(preloaded)

	b.logger.Info("launching runtime",
		zap.Stringer("mode", target.Mode),
		zap.String("root", target.Root),
		zap.String("path", target.Path),
		zap.Int("args", len(args)),
	)
	if err := b.launcher.Launch(ctx, target, args); err != nil {
		b.logger.Error("failed to launch runtime", zap.Error(err))
		return err
	}
	return nil
}

func (b *Bootstrapper) resolve() (launch.Target, error) {
	mode, err := launch.SelectMode(b.cfg.WorkerRuntime, b.cfg.InProc8Enabled)
	if err != nil {
		return launch.Target{}, err
	}

	start := b.workingDir
	if start == "" {
		if start, err = os.Getwd(); err != nil {
			return launch.Target{}, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	root, err := rootdir.Find(start, launch.CoreToolsDirName)
	if err != nil {
		return launch.Target{}, err
	}
	return launch.Resolve(mode, root, b.goos)
}

// waitPreload gives the preloader up to PreloadWait to finish. Launching
// with a partly warmed cache is fine.
func (b *Bootstrapper) waitPreload(done <-chan preload.Result) {
	if done == nil || b.cfg.PreloadWait <= 0 {
		return
	}

	timer := time.NewTimer(b.cfg.PreloadWait)
	defer timer.Stop()

	select {
	case res := <-done:
		b.logger.Debug("preload complete before launch", zap.Int("read", res.Read), zap.Int("missing", res.Missing))
	case <-timer.C:
		b.logger.Info("launching before preload finished", zap.Duration("waited", b.cfg.PreloadWait))
	}
}
