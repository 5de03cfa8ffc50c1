// Package bridge connects native code to the runtime. Native code registers
// an inbound callback once; after that it can deliver inbound messages, while
// runtime code submits outbound messages onto the outbound channel.
package bridge

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/snowmerak/nethost/lib/channel"
	"github.com/snowmerak/nethost/lib/message"
	"github.com/snowmerak/nethost/lib/metrics"
)

var (
	ErrAlreadyRegistered = errors.New("bridge callback already registered")
	ErrNotReady          = errors.New("bridge callback not registered")
	ErrNilSink           = errors.New("bridge callback is nil")
)

// Handle is the opaque value native code passes at registration and gets
// back on every inbound delivery.
type Handle uintptr

// NativeSink receives inbound messages. The payload is only valid for the
// duration of the call.
type NativeSink interface {
	Deliver(payload []byte, handle Handle) int32
}

// SinkFunc adapts a function to NativeSink.
type SinkFunc func(payload []byte, handle Handle) int32

func (f SinkFunc) Deliver(payload []byte, handle Handle) int32 {
	return f(payload, handle)
}

type State int32

const (
	StateUninitialized State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// registration is published as a whole, so a reader that sees it sees both
// fields.
type registration struct {
	sink   NativeSink
	handle Handle
}

type Option func(*Bridge)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

type Bridge struct {
	reg   atomic.Pointer[registration]
	ready chan struct{}
	out   *channel.Channel

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New returns a bridge in the uninitialized state that submits outbound
// messages onto out.
func New(out *channel.Channel, opts ...Option) *Bridge {
	b := &Bridge{
		ready:  make(chan struct{}),
		out:    out,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterCallback stores sink and handle and moves the bridge to ready.
// It succeeds exactly once; later calls return ErrAlreadyRegistered and leave
// the first registration in effect.
func (b *Bridge) RegisterCallback(sink NativeSink, handle Handle) error {
	if sink == nil {
		return ErrNilSink
	}

	if !b.reg.CompareAndSwap(nil, &registration{sink: sink, handle: handle}) {
		b.logger.Error("rejected second callback registration",
			zap.Uintptr("handle", uintptr(handle)),
			zap.Uintptr("registered_handle", uintptr(b.reg.Load().handle)),
		)
		return ErrAlreadyRegistered
	}
	close(b.ready)

	b.logger.Info("native callback registered", zap.Uintptr("handle", uintptr(handle)))
	return nil
}

// DeliverInbound hands payload, unmodified, to the registered callback and
// returns the callback's result. The bridge must be ready; otherwise
// ErrNotReady is returned and nothing is delivered. A panic in the callback
// is not recovered.
func (b *Bridge) DeliverInbound(payload []byte) (int32, error) {
	r := b.reg.Load()
	if r == nil {
		b.metrics.InboundRejected()
		b.logger.Error("inbound message delivered before callback registration", zap.Int("length", len(payload)))
		return 0, ErrNotReady
	}

	b.metrics.InboundDelivered()
	return r.sink.Deliver(payload, r.handle), nil
}

// SubmitOutbound validates buf, copies it and enqueues it for the host. It
// never waits for I/O.
func (b *Bridge) SubmitOutbound(buf []byte) error {
	msg, err := message.ParseOutbound(buf)
	if err != nil {
		b.metrics.OutboundRejected()
		return err
	}

	if err := b.out.Enqueue(msg); err != nil {
		b.metrics.OutboundRejected()
		return err
	}

	b.metrics.OutboundSubmitted()
	return nil
}

// WaitReady blocks until the bridge is ready or ctx ends.
func (b *Bridge) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once a callback is registered.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bridge) IsReady() bool {
	return b.reg.Load() != nil
}

func (b *Bridge) State() State {
	if b.IsReady() {
		return StateReady
	}
	return StateUninitialized
}

// Handle returns the registered handle, or zero before registration.
func (b *Bridge) Handle() Handle {
	if r := b.reg.Load(); r != nil {
		return r.handle
	}
	return 0
}

// Outbound returns the channel that SubmitOutbound writes to.
func (b *Bridge) Outbound() *channel.Channel {
	return b.out
}
