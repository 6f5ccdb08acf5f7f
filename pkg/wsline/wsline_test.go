package wsline

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ledzpl/linechat/pkg/linecodec"
)

var quietLogger = log.New(io.Discard, "", 0)

func startTestServer(t *testing.T, serve ConnHandler, opts ...Option) string {
	t.Helper()
	srv := httptest.NewServer(Handler(context.Background(), serve, quietLogger, opts...))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	return string(data)
}

func TestFramesAreLines(t *testing.T) {
	url := startTestServer(t, func(_ context.Context, conn *Conn) {
		if err := conn.WriteLine(conn.ID()); err != nil {
			return
		}
		for {
			line, err := conn.ReadLine()
			if err != nil {
				return
			}
			if err := conn.WriteLine("echo: " + line); err != nil {
				return
			}
		}
	})

	ws := dial(t, url)
	require.True(t, strings.HasPrefix(readText(t, ws), "ws:"))
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, []byte("ignored")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello\r\n")))
	require.Equal(t, "echo: hello", readText(t, ws))
}

func TestNormalCloseIsEOF(t *testing.T) {
	errs := make(chan error, 1)
	url := startTestServer(t, func(_ context.Context, conn *Conn) {
		_, err := conn.ReadLine()
		errs <- err
	})

	ws := dial(t, url)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	select {
	case err := <-errs:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("handler did not observe close")
	}
}

func TestOversizedFrameIsDecodeError(t *testing.T) {
	errs := make(chan error, 1)
	url := startTestServer(t, func(_ context.Context, conn *Conn) {
		_, err := conn.ReadLine()
		errs <- err
	}, WithMaxLineLength(8))

	ws := dial(t, url)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("z", 64))))

	select {
	case err := <-errs:
		require.ErrorIs(t, err, linecodec.ErrDecode)
	case <-time.After(time.Second):
		t.Fatal("handler did not observe decode error")
	}
}

func TestRejectsNonGet(t *testing.T) {
	srv := httptest.NewServer(Handler(context.Background(), func(context.Context, *Conn) {}, quietLogger))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
