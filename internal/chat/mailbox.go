package chat

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed reports a send to a mailbox whose relay is gone.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is the bounded outbound queue of one connection. Many broadcasters
// send into it; exactly one relay drains it.
type Mailbox struct {
	queue  chan *Message
	closed chan struct{}
	once   sync.Once
}

func newMailbox(capacity int) *Mailbox {
	return &Mailbox{
		queue:  make(chan *Message, capacity),
		closed: make(chan struct{}),
	}
}

// Receive returns the queue drained by the connection's relay.
func (m *Mailbox) Receive() <-chan *Message {
	return m.queue
}

// Done is closed once the mailbox has been torn down.
func (m *Mailbox) Done() <-chan struct{} {
	return m.closed
}

// Close tears the mailbox down. Pending and future sends fail with
// ErrMailboxClosed. Close is idempotent.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.closed) })
}

// Len reports the number of queued messages.
func (m *Mailbox) Len() int {
	return len(m.queue)
}

// Cap reports the mailbox capacity.
func (m *Mailbox) Cap() int {
	return cap(m.queue)
}

// send enqueues msg, blocking while the queue is full and the mailbox is open.
func (m *Mailbox) send(ctx context.Context, msg *Message) error {
	select {
	case <-m.closed:
		return ErrMailboxClosed
	default:
	}

	select {
	case m.queue <- msg:
		return nil
	case <-m.closed:
		return ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
