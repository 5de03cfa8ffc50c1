// Package hoststream carries protocol messages between the bridge and the
// functions host. A Transport moves opaque payloads; the Pump connects a
// transport to a bridge.
package hoststream

import (
	"errors"
	"fmt"
)

var (
	ErrClosed = errors.New("host stream closed")

	// ErrMessageTooLarge is returned by Send for a single payload the
	// transport cannot carry. The stream itself is still usable.
	ErrMessageTooLarge = errors.New("outbound message too large")
)

// Transport is a bidirectional message stream to the host. Send may be
// called from one goroutine and Recv from another at the same time. Close
// unblocks both.
type Transport interface {
	Send(payload []byte) error
	Recv() ([]byte, error)
	Close() error
}

// HalfCloser is implemented by transports that buffer sends. CloseSend ends
// the outbound direction without discarding what is in flight; the host
// ending the stream afterwards confirms it received everything.
type HalfCloser interface {
	CloseSend() error
}

// DroppedError reports a single inbound message that was lost in transit.
// The stream itself is still usable.
type DroppedError struct {
	ID  uint32
	Err error
}

func (e *DroppedError) Error() string {
	return fmt.Sprintf("inbound message %d dropped: %v", e.ID, e.Err)
}

func (e *DroppedError) Unwrap() error {
	return e.Err
}
