// Command nethost prepares and starts the functions worker runtime. Every
// argument is passed through unchanged to the runtime.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snowmerak/nethost/lib/bootstrap"
	"github.com/snowmerak/nethost/lib/config"
	"github.com/snowmerak/nethost/lib/logging"
	"github.com/snowmerak/nethost/lib/metrics"
)

// runFunc receives the arguments exactly as given on the command line.
type runFunc func(ctx context.Context, args []string) error

func main() {
	if err := newRootCmd(run).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(run runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "nethost [runtime args...]",
		Short: "Bootstrap the functions worker runtime",
		Long: `nethost warms the page cache with runtime binaries, selects the runtime
variant from FUNCTIONS_WORKER_RUNTIME and FUNCTIONS_INPROC_NET8_ENABLED,
locates the Azure.Functions.Cli toolchain above the working directory and
starts it with the given arguments.`,
		// The runtime owns every flag.
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args)
		},
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: level, File: cfg.Log.File, Name: "nethost"})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// The only signal handler: cancelling ctx makes the launcher terminate
	// the child.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	return bootstrap.New(cfg,
		bootstrap.WithLogger(logger),
		bootstrap.WithMetrics(m),
	).Run(ctx, args)
}
