package chat

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

type readResult struct {
	line string
	err  error
}

// fakeConn is an in-memory Conn. Lines queued with send are returned by
// ReadLine in order; hangup makes ReadLine return io.EOF.
type fakeConn struct {
	id string

	in     chan readResult
	out    chan string
	closed chan struct{}

	mu        sync.Mutex
	writeErr  error
	closeOnce sync.Once
}

func newFakeConn(id string, lines ...string) *fakeConn {
	c := &fakeConn{
		id:     id,
		in:     make(chan readResult, 256),
		out:    make(chan string, 1024),
		closed: make(chan struct{}),
	}
	for _, line := range lines {
		c.send(line)
	}
	return c
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) ReadLine() (string, error) {
	select {
	case r := <-c.in:
		return r.line, r.err
	case <-c.closed:
		return "", net.ErrClosed
	}
}

func (c *fakeConn) WriteLine(line string) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.out <- line
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(line string) {
	c.in <- readResult{line: line}
}

func (c *fakeConn) fail(err error) {
	c.in <- readResult{err: err}
}

func (c *fakeConn) hangup() {
	c.fail(io.EOF)
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func expectLine(t *testing.T, c *fakeConn, want string) {
	t.Helper()
	select {
	case got := <-c.out:
		if got != want {
			t.Fatalf("%s: expected %q, got %q", c.id, want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("%s: timed out waiting for %q", c.id, want)
	}
}

// collect returns every line written to c within d.
func collect(c *fakeConn, d time.Duration) []string {
	var lines []string
	deadline := time.After(d)
	for {
		select {
		case line := <-c.out:
			lines = append(lines, line)
		case <-deadline:
			return lines
		}
	}
}

var errBrokenPipe = errors.New("broken pipe")
