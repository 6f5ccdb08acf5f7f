// Package wsline serves line-oriented sessions over WebSocket. Every inbound
// text frame is one line and every outbound line is one text frame.
package wsline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/ledzpl/linechat/pkg/linecodec"
)

const writeTimeout = 10 * time.Second

// ConnHandler handles one upgraded connection. The connection is closed once
// the handler returns.
type ConnHandler func(ctx context.Context, conn *Conn)

// Conn adapts a WebSocket connection to line reads and writes.
type Conn struct {
	ws   *websocket.Conn
	addr string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// ID identifies the connection by its transport and remote address.
func (c *Conn) ID() string { return "ws:" + c.addr }

// ReadLine returns the payload of the next text frame. A normal close is
// reported as io.EOF; oversized or non UTF-8 frames as linecodec decode errors.
func (c *Conn) ReadLine() (string, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				return "", linecodec.ErrLineTooLong
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return "", io.EOF
			default:
				return "", err
			}
		}
		if kind != websocket.TextMessage {
			continue
		}
		if !utf8.Valid(data) {
			return "", linecodec.ErrInvalidUTF8
		}
		return strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r"), nil
	}
}

// WriteLine sends line as a single text frame.
func (c *Conn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Option configures the upgrade handler.
type Option func(*handler)

// WithMaxLineLength bounds the size of inbound frames.
func WithMaxLineLength(n int) Option {
	return func(h *handler) {
		if n > 0 {
			h.maxLine = n
		}
	}
}

type handler struct {
	ctx      context.Context
	serve    ConnHandler
	upgrader websocket.Upgrader
	maxLine  int
	logger   *log.Logger
}

// Handler returns an http.Handler upgrading GET requests and passing each
// connection to serve. ctx is handed to serve and closes live connections
// once cancelled.
func Handler(ctx context.Context, serve ConnHandler, logger *log.Logger, opts ...Option) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	h := &handler{
		ctx:   ctx,
		serve: serve,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		maxLine: linecodec.DefaultMaxLineLength,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("wsline: upgrade failed: %v", err)
		return
	}
	ws.SetReadLimit(int64(h.maxLine))

	conn := &Conn{ws: ws, addr: r.RemoteAddr}
	defer conn.Close()

	stop := context.AfterFunc(h.ctx, func() { _ = conn.Close() })
	defer stop()

	h.logger.Printf("wsline: accepted connection from %s", r.RemoteAddr)
	h.serve(h.ctx, conn)
}

// ListenAndServe serves handler at "/" on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, serve ConnHandler, logger *log.Logger, opts ...Option) error {
	if serve == nil {
		return errors.New("wsline: connection handler required")
	}
	if logger == nil {
		logger = log.Default()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wsline: listen %q: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           Handler(ctx, serve, logger, opts...),
		ReadHeaderTimeout: 15 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	shutdown := make(chan struct{})
	defer close(shutdown)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Printf("wsline: shutdown error: %v", err)
			}
		case <-shutdown:
		}
	}()

	logger.Printf("wsline: listening on %s", listener.Addr())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("wsline: serve: %w", err)
	}
	return ctx.Err()
}
