package hoststream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/snowmerak/nethost/lib/multiplexer"
)

// PipeTransport frames messages with the multiplexer over any byte stream,
// typically a unix domain socket shared with the host.
type PipeTransport struct {
	node   *multiplexer.Node
	closer io.Closer

	msgs   <-chan multiplexer.Message
	errc   <-chan error
	cancel context.CancelFunc

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
}

// NewPipeTransport starts reading from r immediately. closer, if not nil,
// is closed by Close and should unblock reads on r.
func NewPipeTransport(r io.Reader, w io.Writer, closer io.Closer) *PipeTransport {
	ctx, cancel := context.WithCancel(context.Background())
	node := multiplexer.NewNode(r, w)
	msgs, errc := node.ReadMessages(ctx)
	return &PipeTransport{
		node:   node,
		closer: closer,
		msgs:   msgs,
		errc:   errc,
		cancel: cancel,
	}
}

// DialUnix connects to the host's unix domain socket at path.
func DialUnix(ctx context.Context, path string) (*PipeTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to unix socket %s: %w", path, err)
	}
	return NewPipeTransport(conn, conn, conn), nil
}

// Send returns once payload has been written to the underlying stream, so
// closing the transport afterwards loses nothing.
func (t *PipeTransport) Send(payload []byte) error {
	err := t.node.WriteMessage(context.Background(), payload)
	if errors.Is(err, multiplexer.ErrMessageTooLarge) {
		return fmt.Errorf("%w: %w", ErrMessageTooLarge, err)
	}
	return err
}

// Recv returns io.EOF once the peer closes the stream cleanly and a
// *DroppedError for a single aborted or malformed message.
func (t *PipeTransport) Recv() ([]byte, error) {
	m, ok := <-t.msgs
	if !ok {
		return nil, t.terminalError()
	}
	if m.Err != nil {
		return nil, &DroppedError{ID: m.ID, Err: m.Err}
	}
	return m.Data, nil
}

func (t *PipeTransport) terminalError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.readErr == nil {
		err := <-t.errc
		if err == nil {
			err = io.EOF
		}
		t.readErr = err
	}
	return t.readErr
}

func (t *PipeTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		if t.closer != nil {
			err = t.closer.Close()
		}
	})
	return err
}
