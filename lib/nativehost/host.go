// Package nativehost assembles the pieces a native embedder talks to: the
// bridge, its outbound channel and the stream to the functions host.
package nativehost

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/snowmerak/nethost/lib/bridge"
	"github.com/snowmerak/nethost/lib/channel"
	"github.com/snowmerak/nethost/lib/config"
	"github.com/snowmerak/nethost/lib/hoststream"
	"github.com/snowmerak/nethost/lib/logging"
	"github.com/snowmerak/nethost/lib/metrics"
	"github.com/snowmerak/nethost/lib/preload"
)

var (
	ErrAlreadyStarted = errors.New("native host already started")
	ErrNotStarted     = errors.New("native host not started")
	ErrStopped        = errors.New("native host stopped")
)

// Dialer opens the host stream.
type Dialer func(ctx context.Context, opts hoststream.Options) (hoststream.Transport, error)

type Option func(*Host)

func WithDialer(d Dialer) Option {
	return func(h *Host) { h.dial = d }
}

// WithPreloadFiles replaces the default runtime file list. An empty list
// disables preloading.
func WithPreloadFiles(files []string) Option {
	return func(h *Host) { h.preloadFiles = files }
}

type Host struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	bridge  *bridge.Bridge
	session string

	dial         Dialer
	preloadFiles []string

	preloadOnce sync.Once

	mu       sync.Mutex
	started  bool
	starting bool
	stopped  bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func New(cfg config.Config, logger *zap.Logger, m *metrics.Metrics, opts ...Option) *Host {
	session := newSessionID()
	logger = logging.OrNop(logger).With(zap.String("session", session))

	out := channel.New(channel.WithSynchronousContinuations(true))
	h := &Host{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		bridge:       bridge.New(out, bridge.WithLogger(logger.Named("bridge")), bridge.WithMetrics(m)),
		session:      session,
		preloadFiles: preload.FilesFor(cfg.PreloadDir, runtime.GOOS),
		done:         make(chan struct{}),
		dial: func(ctx context.Context, opts hoststream.Options) (hoststream.Transport, error) {
			return hoststream.Dial(ctx, opts)
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) Bridge() *bridge.Bridge {
	return h.bridge
}

func (h *Host) Session() string {
	return h.session
}

// Start parses the host connection arguments, connects and begins pumping
// messages in the background. The runtime files are preloaded concurrently,
// once per Host even when a failed Start is retried. Start returns once the
// stream is open. Stop does not wait for a Start that is still dialing; that
// Start then fails with ErrStopped.
func (h *Host) Start(ctx context.Context, args []string) error {
	h.mu.Lock()
	switch {
	case h.stopped:
		h.mu.Unlock()
		return ErrStopped
	case h.started, h.starting:
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.starting = true
	h.mu.Unlock()

	transport, opts, err := h.connect(ctx, args)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.starting = false
	if err != nil {
		return err
	}
	if h.stopped {
		_ = transport.Close()
		return ErrStopped
	}

	h.logger.Info("connected to host",
		zap.String("endpoint", opts.Endpoint),
		zap.String("worker_runtime", h.cfg.WorkerRuntime),
		zap.String("worker_id", opts.WorkerID),
		zap.String("request_id", opts.RequestID),
	)

	runCtx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.started = true

	pump := hoststream.NewPump(transport, h.bridge,
		hoststream.WithLogger(h.logger.Named("stream")),
		hoststream.WithMetrics(h.metrics),
	)
	go func() {
		defer close(h.done)
		err := pump.Run(runCtx)
		if err != nil {
			h.logger.Error("host stream ended", zap.Error(err))
		} else {
			h.logger.Info("host stream ended")
		}
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
	}()
	return nil
}

// connect runs without h.mu held.
func (h *Host) connect(ctx context.Context, args []string) (hoststream.Transport, hoststream.Options, error) {
	opts, err := hoststream.ParseArgs(args)
	if err != nil {
		return nil, opts, err
	}

	h.preloadOnce.Do(func() {
		if len(h.preloadFiles) == 0 {
			return
		}
		p := preload.New(h.preloadFiles,
			preload.WithLogger(h.logger.Named("preload")),
			preload.WithMetrics(h.metrics),
		)
		p.Start(context.Background())
	})

	transport, err := h.dial(ctx, opts)
	if err != nil {
		h.logger.Error("failed to connect to host", zap.String("endpoint", opts.Endpoint), zap.Error(err))
		return nil, opts, err
	}
	return transport, opts, nil
}

// Stop completes the outbound channel, lets queued messages drain and closes
// the stream. It waits until the pump has stopped or ctx ends.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.stopped = true
		h.mu.Unlock()
		h.bridge.Outbound().Complete()
		return ErrNotStarted
	}
	h.stopped = true
	cancel := h.cancel
	h.mu.Unlock()

	h.bridge.Outbound().Complete()

	select {
	case <-h.done:
	case <-ctx.Done():
		cancel()
		<-h.done
	}
	cancel()
	return h.Err()
}

// Done is closed when the pump stops. It never closes if Start was not
// successful.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Err returns the pump's terminal error once Done is closed.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
