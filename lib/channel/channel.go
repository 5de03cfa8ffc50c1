// Package channel implements the outbound message channel: an unbounded
// queue written by any number of producers and drained by exactly one
// consumer that forwards messages to the host stream.
package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/snowmerak/nethost/lib/message"
)

var (
	// ErrCompleted is returned by Enqueue after Complete, and by Dequeue once
	// a completed channel is empty.
	ErrCompleted = errors.New("outbound channel completed")

	// ErrConcurrentReader is returned when a second consumer calls Dequeue
	// while another Dequeue is in progress.
	ErrConcurrentReader = errors.New("outbound channel already has a reader")
)

type Option func(*Channel)

// WithSynchronousContinuations lets a producer hand its message straight to
// a parked consumer on the producer's goroutine. It lowers end-to-end latency
// at the cost of slightly slower Enqueue calls.
func WithSynchronousContinuations(enabled bool) Option {
	return func(c *Channel) { c.syncContinuations = enabled }
}

// Channel is safe for concurrent Enqueue from any number of goroutines.
// Messages from one producer are dequeued in the order they were enqueued.
type Channel struct {
	syncContinuations bool

	mu        sync.Mutex
	queue     []message.Outbound
	head      int
	parked    bool
	completed bool

	handoff chan message.Outbound // cap 1, used while parked
	notify  chan struct{}         // cap 1, used otherwise
	done    chan struct{}

	reading atomic.Bool
}

// New creates an empty channel. Synchronous continuations are on by default.
func New(opts ...Option) *Channel {
	c := &Channel{
		syncContinuations: true,
		handoff:           make(chan message.Outbound, 1),
		notify:            make(chan struct{}, 1),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue adds msg to the channel. It never blocks and never fails for
// capacity reasons.
func (c *Channel) Enqueue(msg message.Outbound) error {
	c.mu.Lock()
	if c.completed {
		c.mu.Unlock()
		return ErrCompleted
	}

	if c.parked && c.head == len(c.queue) {
		// The consumer is waiting on an empty queue; wake it with the message.
		c.parked = false
		c.handoff <- msg
		c.mu.Unlock()
		return nil
	}

	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue returns the next message, waiting until one is available, the
// channel is completed and drained, or ctx ends. Only one goroutine may be
// in Dequeue at a time.
func (c *Channel) Dequeue(ctx context.Context) (message.Outbound, error) {
	if !c.reading.CompareAndSwap(false, true) {
		return message.Outbound{}, ErrConcurrentReader
	}
	defer c.reading.Store(false)

	for {
		c.mu.Lock()
		if msg, ok := c.pop(); ok {
			c.mu.Unlock()
			return msg, nil
		}
		if c.completed {
			c.mu.Unlock()
			return message.Outbound{}, ErrCompleted
		}
		if !c.syncContinuations {
			c.mu.Unlock()
			select {
			case <-c.notify:
			case <-c.done:
			case <-ctx.Done():
				return message.Outbound{}, ctx.Err()
			}
			continue
		}

		c.parked = true
		c.mu.Unlock()

		select {
		case msg := <-c.handoff:
			return msg, nil
		case <-c.done:
			if msg, ok := c.unpark(); ok {
				return msg, nil
			}
		case <-ctx.Done():
			if msg, ok := c.unpark(); ok {
				return msg, nil
			}
			return message.Outbound{}, ctx.Err()
		}
	}
}

// unpark withdraws the parked consumer. If a producer already handed a
// message over, that message is returned so it is not lost.
func (c *Channel) unpark() (message.Outbound, bool) {
	c.mu.Lock()
	handed := !c.parked
	c.parked = false
	c.mu.Unlock()

	if handed {
		return <-c.handoff, true
	}
	return message.Outbound{}, false
}

func (c *Channel) pop() (message.Outbound, bool) {
	if c.head == len(c.queue) {
		return message.Outbound{}, false
	}
	msg := c.queue[c.head]
	c.queue[c.head] = message.Outbound{}
	c.head++
	if c.head == len(c.queue) {
		c.queue = c.queue[:0]
		c.head = 0
	}
	return msg, true
}

// Drain is the consumer loop: it passes every message to fn until the
// channel is completed and empty, ctx ends, or fn fails.
func (c *Channel) Drain(ctx context.Context, fn func(message.Outbound) error) error {
	for {
		msg, err := c.Dequeue(ctx)
		if errors.Is(err, ErrCompleted) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

// Complete stops further Enqueue calls. Messages already queued are still
// delivered to the consumer. Calling Complete more than once is harmless.
func (c *Channel) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.completed = true
	close(c.done)
}

// Len returns the number of queued messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue) - c.head
}
