// Package multiplexer frames whole messages over a single byte stream so
// that several writers can share one pipe. Each message is split into a
// Start frame, any number of Data frames and an End (or Abort) frame, all
// carrying the same frame ID.
package multiplexer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Frame header: 1 byte type, 4 bytes frame ID, 4 bytes payload length,
// big endian.
const HeaderSize = 9

const (
	FrameStart = uint8(0x01)
	FrameEnd   = uint8(0x02)
	FrameData  = uint8(0x03)
	FrameAbort = uint8(0x06)
)

const (
	// ChunkSize is the largest payload written in one Data frame.
	ChunkSize = 1024

	// MaxMessageSize bounds a reassembled message.
	MaxMessageSize = 10 * 1024 * 1024
)

var (
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrUnknownFrame    = errors.New("frame ID not started")
	ErrDuplicateFrame  = errors.New("frame ID already started")
	ErrAborted         = errors.New("message aborted by sender")
)

// Message is one reassembled message. Err is set instead of Data when the
// sender aborted it or the framing for that ID was invalid.
type Message struct {
	ID   uint32
	Data []byte
	Err  error
}

type header struct {
	typ    uint8
	id     uint32
	length uint32
}

func (h header) put(b []byte) {
	b[0] = h.typ
	binary.BigEndian.PutUint32(b[1:5], h.id)
	binary.BigEndian.PutUint32(b[5:9], h.length)
}

func parseHeader(b []byte) header {
	return header{
		typ:    b[0],
		id:     binary.BigEndian.Uint32(b[1:5]),
		length: binary.BigEndian.Uint32(b[5:9]),
	}
}

type Node struct {
	reader io.Reader
	writer io.Writer

	writeMu sync.Mutex
	wbuf    [HeaderSize + ChunkSize]byte

	pending map[uint32][]byte // only touched by the read loop

	sequence atomic.Uint32
	reading  atomic.Bool
}

func NewNode(reader io.Reader, writer io.Writer) *Node {
	return &Node{
		reader:  reader,
		writer:  writer,
		pending: make(map[uint32][]byte),
	}
}

// ReadMessages starts the read loop. Completed messages, and aborted or
// malformed ones with Err set, are sent on the returned channel. The channel
// is closed when the stream ends or ctx is done; the terminal error, nil on
// a clean EOF, is sent on the error channel. A read blocked on the
// underlying reader only returns once that reader is closed. ReadMessages may
// be called once.
func (n *Node) ReadMessages(ctx context.Context) (<-chan Message, <-chan error) {
	msgs := make(chan Message, 64)
	errc := make(chan error, 1)

	if !n.reading.CompareAndSwap(false, true) {
		close(msgs)
		errc <- errors.New("multiplexer: read loop already running")
		return msgs, errc
	}

	go func() {
		defer close(msgs)
		errc <- n.readLoop(ctx, msgs)
	}()
	return msgs, errc
}

func (n *Node) readLoop(ctx context.Context, msgs chan<- Message) error {
	var hb [HeaderSize]byte
	chunk := make([]byte, ChunkSize)

	emit := func(m Message) error {
		select {
		case msgs <- m:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := io.ReadFull(n.reader, hb[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read frame header: %w", err)
		}
		h := parseHeader(hb[:])

		if h.length > MaxMessageSize {
			return fmt.Errorf("frame %d: length %d: %w", h.id, h.length, ErrMessageTooLarge)
		}

		var payload []byte
		if h.length > 0 {
			if int(h.length) > len(chunk) {
				chunk = make([]byte, h.length)
			}
			payload = chunk[:h.length]
			if _, err := io.ReadFull(n.reader, payload); err != nil {
				return fmt.Errorf("failed to read frame %d payload: %w", h.id, err)
			}
		}

		switch h.typ {
		case FrameStart:
			if _, ok := n.pending[h.id]; ok {
				delete(n.pending, h.id)
				if err := emit(Message{ID: h.id, Err: ErrDuplicateFrame}); err != nil {
					return err
				}
				continue
			}
			n.pending[h.id] = []byte{}

		case FrameData:
			buf, ok := n.pending[h.id]
			if !ok {
				if err := emit(Message{ID: h.id, Err: ErrUnknownFrame}); err != nil {
					return err
				}
				continue
			}
			if len(buf)+len(payload) > MaxMessageSize {
				delete(n.pending, h.id)
				if err := emit(Message{ID: h.id, Err: ErrMessageTooLarge}); err != nil {
					return err
				}
				continue
			}
			n.pending[h.id] = append(buf, payload...)

		case FrameEnd, FrameAbort:
			buf, ok := n.pending[h.id]
			delete(n.pending, h.id)

			m := Message{ID: h.id, Data: buf}
			switch {
			case !ok:
				m = Message{ID: h.id, Err: ErrUnknownFrame}
			case h.typ == FrameAbort:
				m = Message{ID: h.id, Err: ErrAborted}
			}
			if err := emit(m); err != nil {
				return err
			}

		default:
			return fmt.Errorf("frame %d: unknown frame type 0x%02x", h.id, h.typ)
		}
	}
}

// writeFrame writes one frame with a single Write call so frames from
// concurrent writers never interleave.
func (n *Node) writeFrame(typ uint8, id uint32, payload []byte) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	if n.writer == nil {
		return errors.New("multiplexer: writer is nil")
	}

	header{typ: typ, id: id, length: uint32(len(payload))}.put(n.wbuf[:HeaderSize])
	k := copy(n.wbuf[HeaderSize:], payload)
	if _, err := n.writer.Write(n.wbuf[:HeaderSize+k]); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", id, err)
	}
	return nil
}

// WriteMessageWithID writes data as frame id. If ctx ends part-way, an
// Abort frame is written and ctx.Err() returned.
func (n *Node) WriteMessageWithID(ctx context.Context, id uint32, data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes: %w", len(data), ErrMessageTooLarge)
	}

	abort := func() error {
		if err := n.writeFrame(FrameAbort, id, nil); err != nil {
			return err
		}
		return ctx.Err()
	}

	if err := n.writeFrame(FrameStart, id, nil); err != nil {
		return err
	}

	for len(data) > 0 {
		if ctx.Err() != nil {
			return abort()
		}
		k := min(len(data), ChunkSize)
		if err := n.writeFrame(FrameData, id, data[:k]); err != nil {
			return err
		}
		data = data[k:]
	}

	if ctx.Err() != nil {
		return abort()
	}
	return n.writeFrame(FrameEnd, id, nil)
}

// WriteMessage writes data under the next frame ID.
func (n *Node) WriteMessage(ctx context.Context, data []byte) error {
	return n.WriteMessageWithID(ctx, n.sequence.Add(1), data)
}
