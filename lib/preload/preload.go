// Package preload warms the OS page cache with runtime binaries before the
// runtime is loaded, so the later load does not stall on disk reads.
//
// Preloading is best effort: missing files are skipped, read errors are
// logged, and nothing is ever returned to the caller as a failure.
package preload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/snowmerak/nethost/lib/logging"
	"github.com/snowmerak/nethost/lib/metrics"
)

// ChunkSize matches the OS page size; one byte is touched per chunk.
const ChunkSize = 4096

// Result summarises one preload pass.
type Result struct {
	Files   int
	Read    int
	Missing int
	Failed  int
	Bytes   int64
	Pages   int64
	Elapsed time.Duration
}

type Preloader struct {
	files   []string
	logger  *zap.Logger
	metrics *metrics.Metrics
	rng     *rand.Rand

	// checksum keeps the touched bytes observable.
	checksum byte
}

type Option func(*Preloader)

func WithLogger(l *zap.Logger) Option {
	return func(p *Preloader) { p.logger = logging.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Preloader) { p.metrics = m }
}

// WithSeed fixes the byte selection sequence.
func WithSeed(seed uint64) Option {
	return func(p *Preloader) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// New creates a Preloader for the given absolute paths.
func New(files []string, opts ...Option) *Preloader {
	p := &Preloader{
		files:  append([]string(nil), files...),
		logger: zap.NewNop(),
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(os.Getpid()))),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs Preload on its own goroutine. The returned channel yields the
// result once and is then closed. A Preloader runs one pass at a time.
func (p *Preloader) Start(ctx context.Context) <-chan Result {
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		done <- p.Preload(ctx)
	}()
	return done
}

// Preload reads every listed file in ChunkSize pieces. It stops early only
// when ctx is cancelled.
func (p *Preloader) Preload(ctx context.Context) Result {
	start := time.Now()
	res := Result{Files: len(p.files)}
	chunk := make([]byte, ChunkSize)

	for _, file := range p.files {
		if ctx.Err() != nil {
			p.logger.Info("preload cancelled", zap.Int("remaining", res.Files-res.Read-res.Missing-res.Failed))
			break
		}

		n, pages, err := p.readFile(file, chunk)
		switch {
		case errors.Is(err, os.ErrNotExist):
			res.Missing++
			p.metrics.PreloadFile(metrics.PreloadMissing, 0)
			p.logger.Info("preload file not found", zap.String("file", file))
		case err != nil:
			res.Failed++
			res.Bytes += n
			p.metrics.PreloadFile(metrics.PreloadFailed, n)
			p.logger.Warn("failed to preload file", zap.String("file", file), zap.Error(err))
		default:
			res.Read++
			res.Bytes += n
			res.Pages += pages
			p.metrics.PreloadFile(metrics.PreloadRead, n)
			p.logger.Info("preloaded file", zap.String("file", file), zap.Int64("bytes", n))
		}
	}

	res.Elapsed = time.Since(start)
	p.metrics.PreloadDuration(res.Elapsed)
	p.logger.Info("preload finished",
		zap.Int("files", res.Files),
		zap.Int("read", res.Read),
		zap.Int("missing", res.Missing),
		zap.Int("failed", res.Failed),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}

func (p *Preloader) readFile(path string, chunk []byte) (total, pages int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while reading %s: %v", path, r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	if info, statErr := f.Stat(); statErr == nil && info.IsDir() {
		return 0, 0, fmt.Errorf("%s is a directory", path)
	}

	adviseSequential(f)

	for {
		n, readErr := f.Read(chunk)
		if n > 0 {
			total += int64(n)
			pages++
			p.checksum ^= chunk[p.rng.IntN(n)]
		}
		if readErr == io.EOF {
			return total, pages, nil
		}
		if readErr != nil {
			return total, pages, readErr
		}
	}
}
