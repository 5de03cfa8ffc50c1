package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/snowmerak/nethost/lib/config"
	"github.com/snowmerak/nethost/lib/launch"
	"github.com/snowmerak/nethost/lib/rootdir"
)

type recordingLauncher struct {
	calls  atomic.Int32
	target launch.Target
	args   []string
	err    error
}

func (l *recordingLauncher) Launch(_ context.Context, target launch.Target, args []string) error {
	l.calls.Add(1)
	l.target = target
	l.args = args
	return l.err
}

// appLayout creates <tmp>/app/src and <tmp>/app/Azure.Functions.Cli.
func appLayout(t *testing.T) (app, src string) {
	t.Helper()
	app = filepath.Join(t.TempDir(), "app")
	src = filepath.Join(app, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(app, launch.CoreToolsDirName), 0o755))
	return app, src
}

func cfg(runtime string, inProc8 bool) config.Config {
	c := config.Default()
	c.WorkerRuntime = runtime
	c.InProc8Enabled = inProc8
	c.PreloadWait = 0
	return c
}

func TestRun_Isolated(t *testing.T) {
	app, src := appLayout(t)
	l := &recordingLauncher{}

	args := []string{"host", "start", "--verbose"}
	err := New(cfg("dotnet-isolated", false),
		WithLauncher(l), WithWorkingDir(src), WithGOOS("linux"), WithPreloadFiles([]string{}),
	).Run(context.Background(), args)
	require.NoError(t, err)

	assert.Equal(t, int32(1), l.calls.Load())
	assert.Equal(t, launch.ModeIsolated, l.target.Mode)
	assert.Equal(t, app, l.target.Root)
	assert.Equal(t, filepath.Join(app, "Azure.Functions.Cli", "func"), l.target.Path)
	assert.Equal(t, args, l.args)
}

func TestRun_InProcessVariants(t *testing.T) {
	tests := []struct {
		inProc8 bool
		goos    string
		want    string
	}{
		{false, "linux", filepath.Join("Azure.Functions.Cli", "in-proc6", "func")},
		{true, "linux", filepath.Join("Azure.Functions.Cli", "in-proc8", "func")},
		{true, "windows", filepath.Join("Azure.Functions.Cli", "in-proc8", "func.exe")},
	}
	for _, tt := range tests {
		app, src := appLayout(t)
		l := &recordingLauncher{}

		err := New(cfg("dotnet", tt.inProc8),
			WithLauncher(l), WithWorkingDir(src), WithGOOS(tt.goos), WithPreloadFiles([]string{}),
		).Run(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(app, tt.want), l.target.Path)
	}
}

func TestRun_RuntimeNotConfigured(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := &recordingLauncher{}

	err := New(cfg("", false), WithLauncher(l), WithLogger(zap.New(core)), WithPreloadFiles([]string{})).
		Run(context.Background(), []string{"x"})
	assert.NoError(t, err)
	assert.Equal(t, int32(0), l.calls.Load())
	assert.Equal(t, 1, logs.FilterMessage("worker runtime not configured, nothing to launch").Len())
}

func TestRun_UnknownRuntime(t *testing.T) {
	l := &recordingLauncher{}
	err := New(cfg("DotNet", false), WithLauncher(l), WithPreloadFiles([]string{})).Run(context.Background(), nil)
	assert.ErrorIs(t, err, launch.ErrUnknownWorkerRuntime)
	assert.Equal(t, int32(0), l.calls.Load())
}

func TestRun_RootNotFound(t *testing.T) {
	l := &recordingLauncher{}
	err := New(cfg("dotnet-isolated", false),
		WithLauncher(l), WithWorkingDir(t.TempDir()), WithPreloadFiles([]string{}),
	).Run(context.Background(), nil)

	assert.ErrorIs(t, err, rootdir.ErrRootNotFound)
	assert.Contains(t, err.Error(), launch.CoreToolsDirName)
	assert.Equal(t, int32(0), l.calls.Load())
}

func TestRun_LaunchFailure(t *testing.T) {
	_, src := appLayout(t)
	boom := &launch.LoadError{Err: errors.New("exec format error")}
	l := &recordingLauncher{err: boom}

	err := New(cfg("dotnet-isolated", false),
		WithLauncher(l), WithWorkingDir(src), WithPreloadFiles([]string{}),
	).Run(context.Background(), nil)

	var loadErr *launch.LoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.Equal(t, int32(1), l.calls.Load(), "launch is never retried")
}

func TestRun_PanicIsRecovered(t *testing.T) {
	_, src := appLayout(t)
	core, logs := observer.New(zapcore.ErrorLevel)

	l := launch.LauncherFunc(func(context.Context, launch.Target, []string) error {
		panic("runtime host crashed")
	})

	var err error
	require.NotPanics(t, func() {
		err = New(cfg("dotnet-isolated", false),
			WithLauncher(l), WithWorkingDir(src), WithLogger(zap.New(core)), WithPreloadFiles([]string{}),
		).Run(context.Background(), nil)
	})
	assert.ErrorContains(t, err, "runtime host crashed")
	assert.Equal(t, 1, logs.FilterMessage("bootstrap panicked").Len())
}

func TestRun_PreloadWaitIsBounded(t *testing.T) {
	_, src := appLayout(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "System.Private.CoreLib.dll")
	require.NoError(t, os.WriteFile(file, make([]byte, 64*1024), 0o644))

	c := cfg("dotnet-isolated", false)
	c.PreloadWait = time.Second
	l := &recordingLauncher{}

	start := time.Now()
	err := New(c, WithLauncher(l), WithWorkingDir(src), WithPreloadFiles([]string{file})).
		Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), l.calls.Load())
}

func TestRun_PreloadDirFromConfig(t *testing.T) {
	_, src := appLayout(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "System.Private.CoreLib.dll")
	require.NoError(t, os.WriteFile(file, make([]byte, 4096), 0o644))

	c := cfg("dotnet-isolated", false)
	c.PreloadWait = 5 * time.Second
	c.PreloadDir = dir
	core, logs := observer.New(zapcore.InfoLevel)
	l := &recordingLauncher{}

	err := New(c, WithLauncher(l), WithWorkingDir(src), WithGOOS("linux"), WithLogger(zap.New(core))).
		Run(context.Background(), nil)
	require.NoError(t, err)

	preloaded := logs.FilterMessage("preloaded file").All()
	require.Len(t, preloaded, 1)
	assert.Equal(t, file, preloaded[0].ContextMap()["file"])
}
