package hoststream

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/snowmerak/nethost/lib/bridge"
	"github.com/snowmerak/nethost/lib/message"
	"github.com/snowmerak/nethost/lib/metrics"
)

// DefaultDrainTimeout bounds how long a clean stop waits for the host to
// acknowledge the end of the outbound stream.
const DefaultDrainTimeout = 5 * time.Second

type PumpOption func(*Pump)

func WithLogger(logger *zap.Logger) PumpOption {
	return func(p *Pump) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) PumpOption {
	return func(p *Pump) { p.metrics = m }
}

func WithDrainTimeout(d time.Duration) PumpOption {
	return func(p *Pump) {
		if d > 0 {
			p.drainTimeout = d
		}
	}
}

// Pump moves messages between a bridge and a transport. It is the only
// consumer of the bridge's outbound channel.
type Pump struct {
	transport Transport
	bridge    *bridge.Bridge

	drainTimeout time.Duration
	// draining ends once no more outbound messages will be sent.
	draining      context.Context
	startDraining context.CancelFunc

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewPump(t Transport, b *bridge.Bridge, opts ...PumpOption) *Pump {
	p := &Pump{
		transport:    t,
		bridge:       b,
		drainTimeout: DefaultDrainTimeout,
		logger:       zap.NewNop(),
	}
	p.draining, p.startDraining = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drains outbound messages to the transport and delivers inbound
// messages to the bridge once it is ready. It returns when either direction
// stops: ctx ends, the outbound channel completes, or the host closes the
// stream. A clean stop returns nil.
//
// When the outbound channel completes, a transport implementing HalfCloser
// is half-closed and Run waits up to the drain timeout for the host to end
// the stream, so that nothing still buffered is lost. Every other stop
// closes the transport at once.
//
// The transport is closed and the outbound channel completed before Run
// returns; later submissions fail with channel.ErrCompleted.
func (p *Pump) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer p.bridge.Outbound().Complete()

	sendDone := make(chan error, 1)
	recvDone := make(chan error, 1)
	go func() { sendDone <- p.sendLoop(ctx) }()
	go func() { recvDone <- p.recvLoop(ctx) }()

	var err error
	select {
	case err = <-sendDone:
		recvStopped := false
		if err == nil {
			recvStopped, err = p.drain(ctx, recvDone)
		}
		cancel()
		_ = p.transport.Close()
		if !recvStopped {
			<-recvDone
		}
	case err = <-recvDone:
		cancel()
		_ = p.transport.Close()
		<-sendDone
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// drain ends the outbound direction after the channel completed and waits
// for the receive loop to see the host hang up. It reports whether the
// receive loop has stopped.
func (p *Pump) drain(ctx context.Context, recvDone <-chan error) (bool, error) {
	p.startDraining()

	hc, ok := p.transport.(HalfCloser)
	if !ok {
		return false, nil
	}
	if err := hc.CloseSend(); err != nil {
		p.logger.Warn("failed to half-close the host stream", zap.Error(err))
		return false, nil
	}

	timer := time.NewTimer(p.drainTimeout)
	defer timer.Stop()
	select {
	case err := <-recvDone:
		return true, err
	case <-timer.C:
		p.logger.Warn("host did not end the stream in time", zap.Duration("timeout", p.drainTimeout))
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Pump) sendLoop(ctx context.Context) error {
	err := p.bridge.Outbound().Drain(ctx, func(m message.Outbound) error {
		err := p.transport.Send(m.Bytes())
		p.metrics.OutboundSent(m.Len(), err)
		if errors.Is(err, ErrMessageTooLarge) {
			p.logger.Error("dropped outbound message", zap.Int("bytes", m.Len()), zap.Error(err))
			return nil
		}
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("outbound stream stopped", zap.Error(err))
		return err
	}
	if err == nil {
		p.logger.Debug("outbound channel drained")
	}
	return err
}

func (p *Pump) recvLoop(ctx context.Context) error {
	// Once draining, read anyway so the host's end of stream is seen even
	// if no callback was ever registered.
	waitCtx, cancelWait := context.WithCancel(ctx)
	stop := context.AfterFunc(p.draining, cancelWait)
	err := p.bridge.WaitReady(waitCtx)
	stop()
	cancelWait()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	for {
		payload, err := p.transport.Recv()
		if err != nil {
			var dropped *DroppedError
			switch {
			case errors.As(err, &dropped):
				p.logger.Warn("dropped inbound message", zap.Uint32("id", dropped.ID), zap.Error(dropped.Err))
				continue
			case errors.Is(err, io.EOF):
				p.logger.Info("host closed the stream")
				return io.EOF
			case ctx.Err() != nil:
				return ctx.Err()
			}
			p.logger.Error("inbound stream failed", zap.Error(err))
			return err
		}

		rc, err := p.bridge.DeliverInbound(payload)
		if errors.Is(err, bridge.ErrNotReady) {
			p.logger.Warn("discarded inbound message while draining", zap.Int("bytes", len(payload)))
			continue
		}
		if err != nil {
			return err
		}
		if rc != 0 {
			p.logger.Debug("native callback returned non-zero", zap.Int32("result", rc))
		}
	}
}
