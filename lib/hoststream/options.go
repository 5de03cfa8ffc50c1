package hoststream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

var ErrNoEndpoint = errors.New("host endpoint not given: need --functions-uri or --host and --port")

// Options are the host connection settings passed to the worker on its
// command line.
type Options struct {
	// Endpoint is the host URI, e.g. http://127.0.0.1:5000 or unix:///run/host.sock.
	Endpoint         string
	WorkerID         string
	RequestID        string
	MaxMessageLength int
}

// ParseArgs reads the host connection flags out of args. Both the legacy
// spelling (--host, --port, --workerId, ...) and the --functions-* spelling
// are accepted; the latter wins when both are present. Flags it does not
// know are ignored since args also carry the runtime's own arguments.
func ParseArgs(args []string) (Options, error) {
	fs := pflag.NewFlagSet("host", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	var (
		host      = fs.String("host", "", "host address")
		port      = fs.Int("port", 0, "host port")
		workerID  = fs.String("workerId", "", "worker id")
		requestID = fs.String("requestId", "", "request id")
		maxLen    = fs.Int("grpcMaxMessageLength", 0, "max gRPC message length")

		uri        = fs.String("functions-uri", "", "host URI")
		fWorkerID  = fs.String("functions-worker-id", "", "worker id")
		fRequestID = fs.String("functions-request-id", "", "request id")
		fMaxLen    = fs.Int("functions-grpc-max-message-length", 0, "max gRPC message length")
	)

	if err := fs.Parse(args); err != nil {
		return Options{}, fmt.Errorf("failed to parse host arguments: %w", err)
	}

	opts := Options{
		Endpoint:         *uri,
		WorkerID:         firstNonEmpty(*fWorkerID, *workerID),
		RequestID:        firstNonEmpty(*fRequestID, *requestID),
		MaxMessageLength: *maxLen,
	}
	if *fMaxLen > 0 {
		opts.MaxMessageLength = *fMaxLen
	}

	if opts.Endpoint == "" {
		if *host == "" || *port == 0 {
			return opts, ErrNoEndpoint
		}
		opts.Endpoint = "http://" + net.JoinHostPort(*host, strconv.Itoa(*port))
	}
	if opts.MaxMessageLength < 0 {
		return opts, fmt.Errorf("invalid max message length %d", opts.MaxMessageLength)
	}
	return opts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
