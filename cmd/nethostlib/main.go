// Command nethostlib builds the native host as a C shared library:
//
//	go build -buildmode=c-shared -o libnethost.so ./cmd/nethostlib
//
// The embedder calls nethost_start with the worker arguments, the runtime
// registers its inbound callback with register_callbacks and submits
// outbound messages with send_streaming_message. Every export returns 0 on
// success and a negative status otherwise.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"context"
	"sync"
	"time"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/snowmerak/nethost/lib/bridge"
	"github.com/snowmerak/nethost/lib/config"
	"github.com/snowmerak/nethost/lib/logging"
	"github.com/snowmerak/nethost/lib/metrics"
	"github.com/snowmerak/nethost/lib/nativehost"
)

const stopTimeout = 10 * time.Second

// host is created on first use and lives for the rest of the process.
var host = sync.OnceValues(func() (*nativehost.Host, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{Level: level, File: cfg.Log.File, Name: "nethostlib"})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(context.Background(), cfg.Metrics.Addr, reg); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}
	return nativehost.New(cfg, logger, metrics.New(reg)), nil
})

func status(err error) C.int {
	return C.int(nativehost.Status(err))
}

//export nethost_start
func nethost_start(argc C.int, argv **C.char) C.int {
	h, err := host()
	if err != nil {
		return C.int(nativehost.StatusInternal)
	}

	var args []string
	if argc > 0 && argv != nil {
		for _, a := range unsafe.Slice(argv, int(argc)) {
			args = append(args, C.GoString(a))
		}
	}
	return status(h.Start(context.Background(), args))
}

//export register_callbacks
func register_callbacks(callback unsafe.Pointer, handle C.intptr_t) C.int {
	h, err := host()
	if err != nil {
		return C.int(nativehost.StatusInternal)
	}
	return status(h.Bridge().RegisterCallback(bridge.NewCallbackSink(callback), bridge.Handle(handle)))
}

//export send_streaming_message
func send_streaming_message(buffer *C.uint8_t, length C.int) C.int {
	h, err := host()
	if err != nil {
		return C.int(nativehost.StatusInternal)
	}
	// SubmitOutbound copies, so the caller may free buffer on return.
	return status(h.Bridge().SubmitOutbound(bytesOf(buffer, length)))
}

//export deliver_inbound_message
func deliver_inbound_message(buffer *C.uint8_t, length C.int) C.int {
	h, err := host()
	if err != nil {
		return C.int(nativehost.StatusInternal)
	}
	_, err = h.Bridge().DeliverInbound(bytesOf(buffer, length))
	return status(err)
}

// nethost_is_ready reports 1 once a callback is registered, 0 before.
//
//export nethost_is_ready
func nethost_is_ready() C.int {
	h, err := host()
	if err != nil || !h.Bridge().IsReady() {
		return 0
	}
	return 1
}

//export nethost_stop
func nethost_stop() C.int {
	h, err := host()
	if err != nil {
		return C.int(nativehost.StatusInternal)
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	return status(h.Stop(ctx))
}

func bytesOf(buffer *C.uint8_t, length C.int) []byte {
	if buffer == nil || length <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(buffer)), int(length))
}

func main() {}
