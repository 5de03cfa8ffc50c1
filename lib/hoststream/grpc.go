package hoststream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// EventStreamMethod is the host's bidirectional message stream.
const EventStreamMethod = "/AzureFunctionsRpcMessages.FunctionRpc/EventStream"

var eventStreamDesc = &grpc.StreamDesc{
	StreamName:    "EventStream",
	ServerStreams: true,
	ClientStreams: true,
}

// rawCodec passes already-serialized protobuf messages through untouched.
// It keeps the "proto" name so the content type matches what the host
// expects.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
	}
	return *b, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	// data is only valid during the call.
	*b = append((*b)[:0], data...)
	return nil
}

func (rawCodec) Name() string {
	return "proto"
}

// GRPCTransport runs the host EventStream over a gRPC client connection.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
	maxSend int

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// DialGRPC opens the EventStream on target. Secure selects TLS with the
// system roots; otherwise the connection is plaintext. dialOpts are
// appended after the defaults.
func DialGRPC(ctx context.Context, target string, secure bool, maxMessageLength int, dialOpts ...grpc.DialOption) (*GRPCTransport, error) {
	creds := insecure.NewCredentials()
	if secure {
		creds = credentials.NewClientTLSFromCert(nil, "")
	}

	callOpts := []grpc.CallOption{grpc.ForceCodec(rawCodec{})}
	if maxMessageLength > 0 {
		callOpts = append(callOpts,
			grpc.MaxCallRecvMsgSize(maxMessageLength),
			grpc.MaxCallSendMsgSize(maxMessageLength),
		)
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(callOpts...),
	}, dialOpts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for %s: %w", target, err)
	}

	// The stream outlives ctx, which only bounds stream creation.
	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)
	stream, err := conn.NewStream(streamCtx, eventStreamDesc, EventStreamMethod)
	if !stop() || err != nil {
		cancel()
		_ = conn.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("failed to open event stream on %s: %w", target, err)
	}

	return &GRPCTransport{conn: conn, stream: stream, cancel: cancel, maxSend: maxMessageLength}, nil
}

// Send returns ErrMessageTooLarge without touching the stream when payload
// exceeds the negotiated limit; gRPC would otherwise fail the whole stream.
func (t *GRPCTransport) Send(payload []byte) error {
	if t.maxSend > 0 && len(payload) > t.maxSend {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrMessageTooLarge, len(payload), t.maxSend)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if err := t.stream.SendMsg(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrClosed
		}
		return fmt.Errorf("failed to send on event stream: %w", err)
	}
	return nil
}

// Recv returns io.EOF once the host ends the stream.
func (t *GRPCTransport) Recv() ([]byte, error) {
	var payload []byte
	if err := t.stream.RecvMsg(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// CloseSend half-closes the stream. Messages already sent are still
// delivered, and Recv keeps working until the host ends its side.
func (t *GRPCTransport) CloseSend() error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.stream.CloseSend()
}

// Close tears the stream down immediately. Call CloseSend and wait for Recv
// to return io.EOF first to avoid losing buffered messages.
func (t *GRPCTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		// Cancelling first releases a Send blocked on flow control.
		t.cancel()
		t.sendMu.Lock()
		_ = t.stream.CloseSend()
		t.sendMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
