package bridge

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/snowmerak/nethost/lib/channel"
	"github.com/snowmerak/nethost/lib/metrics"
)

func newBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	return New(channel.New(), opts...)
}

func TestRegisterCallback_Once(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	b := newBridge(t, WithLogger(zap.New(core)))
	assert.Equal(t, StateUninitialized, b.State())

	var first, second atomic.Int32
	require.NoError(t, b.RegisterCallback(SinkFunc(func([]byte, Handle) int32 { first.Add(1); return 1 }), 7))
	assert.Equal(t, StateReady, b.State())

	err := b.RegisterCallback(SinkFunc(func([]byte, Handle) int32 { second.Add(1); return 2 }), 8)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, 1, logs.FilterMessage("rejected second callback registration").Len())

	rc, err := b.DeliverInbound([]byte{1})
	require.NoError(t, err)
	assert.Equal(t, int32(1), rc)
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(0), second.Load(), "the first registration stays in effect")
	assert.Equal(t, Handle(7), b.Handle())
}

func TestRegisterCallback_Nil(t *testing.T) {
	b := newBridge(t)
	assert.ErrorIs(t, b.RegisterCallback(nil, 1), ErrNilSink)
	assert.False(t, b.IsReady())
}

func TestRegisterCallback_ConcurrentExactlyOneWins(t *testing.T) {
	b := newBridge(t)

	const callers = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(h Handle) {
			defer wg.Done()
			<-start
			if b.RegisterCallback(SinkFunc(func([]byte, Handle) int32 { return 0 }), h) == nil {
				wins.Add(1)
			}
		}(Handle(i + 1))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.NotZero(t, b.Handle())
}

func TestDeliverInbound_BeforeReady(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := newBridge(t, WithMetrics(metrics.New(reg)))

	_, err := b.DeliverInbound([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrNotReady)

	expected := `
# HELP nethost_bridge_inbound_rejected_total Inbound messages rejected because the bridge was not ready.
# TYPE nethost_bridge_inbound_rejected_total counter
nethost_bridge_inbound_rejected_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "nethost_bridge_inbound_rejected_total"))
}

func TestDeliverInbound_ForwardsUnmodified(t *testing.T) {
	b := newBridge(t)

	var gotPayload []byte
	var gotHandle Handle
	require.NoError(t, b.RegisterCallback(SinkFunc(func(p []byte, h Handle) int32 {
		gotPayload = append([]byte(nil), p...)
		gotHandle = h
		return int32(len(p))
	}), 0xbeef))

	payload := []byte("inbound invocation request")
	rc, err := b.DeliverInbound(payload)
	require.NoError(t, err)
	assert.Equal(t, int32(len(payload)), rc)
	assert.Equal(t, payload, gotPayload)
	assert.Equal(t, Handle(0xbeef), gotHandle)
}

func TestDeliverInbound_CallbackPanicPropagates(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.RegisterCallback(SinkFunc(func([]byte, Handle) int32 { panic("native fault") }), 1))

	assert.PanicsWithValue(t, "native fault", func() { _, _ = b.DeliverInbound([]byte{1}) })
}

func TestWaitReady_ManyWaiters(t *testing.T) {
	b := newBridge(t)

	const waiters = 8
	errs := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() { errs <- b.WaitReady(context.Background()) }()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.RegisterCallback(SinkFunc(func([]byte, Handle) int32 { return 0 }), 3))

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errs:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("waiter not released")
		}
	}

	// Readiness is observed together with the registration.
	select {
	case <-b.Ready():
		assert.Equal(t, Handle(3), b.Handle())
	default:
		t.Fatal("ready channel not closed")
	}
}

func TestWaitReady_Cancelled(t *testing.T) {
	b := newBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, b.WaitReady(ctx), context.DeadlineExceeded)
}

func TestSubmitOutbound(t *testing.T) {
	out := channel.New()
	reg := prometheus.NewRegistry()
	b := New(out, WithMetrics(metrics.New(reg)))

	buf, err := proto.Marshal(wrapperspb.String("StreamingMessage"))
	require.NoError(t, err)

	require.NoError(t, b.SubmitOutbound(buf))
	buf[0] = 0xff // the bridge keeps its own copy

	msg, err := out.Dequeue(context.Background())
	require.NoError(t, err)
	var got wrapperspb.StringValue
	require.NoError(t, proto.Unmarshal(msg.Bytes(), &got))
	assert.Equal(t, "StreamingMessage", got.GetValue())
}

func TestSubmitOutbound_Rejected(t *testing.T) {
	out := channel.New()
	b := New(out)

	assert.Error(t, b.SubmitOutbound([]byte{0x0a, 0x05, 'a'}), "truncated length-delimited field")
	assert.Equal(t, 0, out.Len())

	out.Complete()
	assert.ErrorIs(t, b.SubmitOutbound(nil), channel.ErrCompleted)
}
