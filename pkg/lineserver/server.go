// Package lineserver accepts TCP connections and frames each one as
// newline-delimited text.
package lineserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/ledzpl/linechat/pkg/linecodec"
)

// ConnHandler handles one accepted connection. The connection is closed once
// the handler returns.
type ConnHandler func(ctx context.Context, conn *Conn)

// Conn is an accepted TCP connection with line framing on both halves.
type Conn struct {
	raw net.Conn
	r   *linecodec.Reader
	w   *linecodec.Writer

	closeOnce sync.Once
	closeErr  error
}

func newConn(raw net.Conn, maxLine int) *Conn {
	return &Conn{
		raw: raw,
		r:   linecodec.NewReader(raw, maxLine),
		w:   linecodec.NewWriter(raw),
	}
}

// ID returns the remote address, unique among live connections.
func (c *Conn) ID() string { return c.raw.RemoteAddr().String() }

// ReadLine decodes the next inbound line.
func (c *Conn) ReadLine() (string, error) { return c.r.ReadLine() }

// WriteLine sends line followed by a newline.
func (c *Conn) WriteLine(line string) error { return c.w.WriteLine(line) }

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// Option configures a Server.
type Option func(*Server)

// WithMaxLineLength bounds the length of inbound lines.
func WithMaxLineLength(n int) Option {
	return func(s *Server) { s.maxLine = n }
}

// Server wraps the TCP listener lifecycle.
type Server struct {
	Addr string

	maxLine int
	logger  *log.Logger
}

// New creates a Server listening on addr.
func New(addr string, logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		Addr:    addr,
		maxLine: linecodec.DefaultMaxLineLength,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on s.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, handler ConnHandler) error {
	if handler == nil {
		return errors.New("lineserver: connection handler required")
	}

	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("lineserver: listen %q: %w", s.Addr, err)
	}
	return s.Serve(ctx, listener, handler)
}

// Serve accepts connections on listener until ctx is cancelled, handing each
// one to handler on its own goroutine. It closes listener and returns ctx.Err().
func (s *Server) Serve(ctx context.Context, listener net.Listener, handler ConnHandler) error {
	if handler == nil {
		return errors.New("lineserver: connection handler required")
	}
	defer listener.Close()

	shutdown := make(chan struct{})
	defer close(shutdown)

	go func() {
		select {
		case <-ctx.Done():
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Printf("lineserver: listener close error: %v", err)
			}
		case <-shutdown:
		}
	}()

	s.logger.Printf("lineserver: listening on %s", listener.Addr())

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("lineserver: accept: %w", err)
			}
			s.logger.Printf("lineserver: accept error: %v", err)
			continue
		}

		s.logger.Printf("lineserver: accepted connection from %s", raw.RemoteAddr())
		go s.handleConn(ctx, newConn(raw, s.maxLine), handler)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *Conn, handler ConnHandler) {
	defer conn.Close()

	// Closing the connection is the only way to unblock its reads.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	handler(ctx, conn)
}
