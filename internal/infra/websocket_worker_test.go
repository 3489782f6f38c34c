package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gorilla/websocket"
)

type recordingHandler struct {
	url      string
	connects int32
	messages int32
	got      chan []byte
}

func newRecordingHandler(url string) *recordingHandler {
	return &recordingHandler{url: url, got: make(chan []byte, 16)}
}

func (h *recordingHandler) GetURL() string { return h.url }
func (h *recordingHandler) ID() string     { return "test-stream" }

func (h *recordingHandler) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	atomic.AddInt32(&h.connects, 1)
	return nil
}

func (h *recordingHandler) OnMessage(ctx context.Context, msg []byte) {
	atomic.AddInt32(&h.messages, 1)
	select {
	case h.got <- msg:
	default:
	}
}

func (h *recordingHandler) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return nil
}

// wsTestServer upgrades every request and hands the connection to serve.
func wsTestServer(t *testing.T, serve func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return strings.Replace(srv.URL, "http://", "ws://", 1)
}

func TestStreamWorker_DeliversMessages(t *testing.T) {
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bar"}`))
		time.Sleep(100 * time.Millisecond)
	})

	h := newRecordingHandler(wsURL(srv))
	w := NewStreamWorker(h)
	w.ReadTimeout = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	select {
	case msg := <-h.got:
		assert.JSONEq(t, `{"type":"bar"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&h.connects), int32(1))
}

func TestStreamWorker_StopDoesNotHang(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	srv := wsTestServer(t, func(conn *websocket.Conn) { <-hold })

	w := NewStreamWorker(newRecordingHandler(wsURL(srv)))
	w.Start(context.Background())
	time.Sleep(100 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestStreamWorker_Write(t *testing.T) {
	received := make(chan []byte, 1)
	srv := wsTestServer(t, func(conn *websocket.Conn) {
		if _, msg, err := conn.ReadMessage(); err == nil {
			received <- msg
		}
		time.Sleep(100 * time.Millisecond)
	})

	w := NewStreamWorker(newRecordingHandler(wsURL(srv)))
	w.Start(context.Background())
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, w.Write(websocket.TextMessage, []byte(`{"op":"subscribe"}`)))

	select {
	case msg := <-received:
		assert.Equal(t, `{"op":"subscribe"}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("server did not receive the write")
	}
}

func TestStreamWorker_WriteWithoutConnection(t *testing.T) {
	w := NewStreamWorker(newRecordingHandler("ws://127.0.0.1:1/nowhere"))
	assert.Error(t, w.Write(websocket.TextMessage, []byte("x")))
}
