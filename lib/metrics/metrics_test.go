package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.InboundDelivered()
		m.InboundRejected()
		m.OutboundSubmitted()
		m.OutboundRejected()
		m.OutboundSent(10, nil)
		m.PreloadFile(PreloadRead, 4096)
		m.PreloadDuration(time.Millisecond)
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.InboundDelivered()
	m.InboundDelivered()
	m.OutboundSent(100, nil)
	m.OutboundSent(50, errors.New("broken pipe"))
	m.PreloadFile(PreloadRead, 8192)
	m.PreloadFile(PreloadMissing, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.inboundDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboundSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboundErrors))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.outboundBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.preloadFiles.WithLabelValues(PreloadMissing)))
	assert.Equal(t, 8192.0, testutil.ToFloat64(m.preloadBytes))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.OutboundSubmitted()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "nethost_bridge_outbound_submitted_total 1"))
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, "127.0.0.1:0", prometheus.NewRegistry()) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestServe_BadAddress(t *testing.T) {
	err := Serve(context.Background(), "127.0.0.1:-1", prometheus.NewRegistry())
	assert.Error(t, err)
}
