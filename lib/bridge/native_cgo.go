//go:build cgo

package bridge

/*
#include <stdint.h>

typedef intptr_t (*nethost_request_handler)(uint8_t **buffer, int length, intptr_t handle);

static intptr_t nethost_invoke(void *fn, uint8_t *buffer, int length, intptr_t handle) {
	uint8_t *buf = buffer;
	return ((nethost_request_handler)fn)(&buf, length, handle);
}
*/
import "C"

import "unsafe"

type callbackSink struct {
	fn unsafe.Pointer
}

// NewCallbackSink wraps a native function pointer of type
// intptr_t (*)(uint8_t **buffer, int length, intptr_t handle).
// The callee must not keep the buffer after it returns.
func NewCallbackSink(callback unsafe.Pointer) NativeSink {
	if callback == nil {
		return nil
	}
	return callbackSink{fn: callback}
}

func (s callbackSink) Deliver(payload []byte, handle Handle) int32 {
	var p *C.uint8_t
	if len(payload) > 0 {
		p = (*C.uint8_t)(unsafe.Pointer(&payload[0]))
	}
	return int32(C.nethost_invoke(s.fn, p, C.int(len(payload)), C.intptr_t(handle)))
}
