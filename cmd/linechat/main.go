package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ledzpl/linechat/internal/chat"
	"github.com/ledzpl/linechat/pkg/linecodec"
	"github.com/ledzpl/linechat/pkg/lineserver"
	"github.com/ledzpl/linechat/pkg/wsline"
)

func main() {
	addr := flag.String("addr", "0.0.0.0:8877", "TCP address for the chat server")
	wsAddr := flag.String("ws-addr", "", "Optional address for the WebSocket endpoint (disabled when empty)")
	maxLine := flag.Int("max-line", linecodec.DefaultMaxLineLength, "Maximum accepted line length in bytes")
	mailbox := flag.Int("mailbox", chat.DefaultMailboxCapacity, "Pending messages allowed per connection")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	room := chat.NewRoom(chat.WithLogger(logger), chat.WithMailboxCapacity(*mailbox))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *wsAddr != "" {
		go func() {
			err := wsline.ListenAndServe(ctx, *wsAddr, func(ctx context.Context, conn *wsline.Conn) {
				serve(ctx, room, conn, logger)
			}, logger, wsline.WithMaxLineLength(*maxLine))
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("websocket endpoint stopped: %v", err)
				cancel()
			}
		}()
	}

	server := lineserver.New(*addr, logger, lineserver.WithMaxLineLength(*maxLine))
	err := server.ListenAndServe(ctx, func(ctx context.Context, conn *lineserver.Conn) {
		serve(ctx, room, conn, logger)
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("server stopped with error: %v", err)
	}
}

func serve(ctx context.Context, room *chat.Room, conn chat.Conn, logger *log.Logger) {
	if err := chat.HandleConn(ctx, room, conn, logger); err != nil {
		logger.Printf("failed to handle client %s: %v", conn.ID(), err)
	}
}
