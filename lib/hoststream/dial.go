package hoststream

import (
	"context"
	"fmt"
	"net/url"

	"google.golang.org/grpc"
)

// Dial connects to opts.Endpoint. unix:// endpoints use the framed pipe
// transport; http, https and grpc endpoints use the gRPC EventStream.
func Dial(ctx context.Context, opts Options, dialOpts ...grpc.DialOption) (Transport, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid host endpoint %q: %w", opts.Endpoint, err)
	}

	switch u.Scheme {
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		return DialUnix(ctx, path)
	case "http", "grpc":
		return DialGRPC(ctx, u.Host, false, opts.MaxMessageLength, dialOpts...)
	case "https":
		return DialGRPC(ctx, u.Host, true, opts.MaxMessageLength, dialOpts...)
	default:
		return nil, fmt.Errorf("unsupported host endpoint scheme %q", u.Scheme)
	}
}
