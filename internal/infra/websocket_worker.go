package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamHandler supplies the endpoint-specific half of a websocket stream.
type StreamHandler interface {
	GetURL() string
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, conn *websocket.Conn) error
	ID() string
}

// StreamWorker keeps one websocket connection alive: it dials, reads until
// the connection drops, and redials with exponential backoff. Writes are
// serialized; reads carry a deadline so a silent peer is detected.
type StreamWorker struct {
	handler StreamHandler
	backoff Backoff

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// NewStreamWorker creates a worker around the given handler.
func NewStreamWorker(handler StreamHandler) *StreamWorker {
	return &StreamWorker{
		handler:      handler,
		backoff:      DefaultBackoff,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Start launches the dial-read-redial loop.
func (w *StreamWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop tears the connection down and waits for the loop to exit.
func (w *StreamWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.dropConn()
	w.wg.Wait()
}

func (w *StreamWorker) run(ctx context.Context) {
	for attempt := 0; ctx.Err() == nil; {
		if err := w.dial(ctx); err != nil {
			slog.Warn("Stream dial failed",
				"id", w.handler.ID(), "err", err, "attempt", attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff.Delay(attempt)):
			}
			attempt++
			continue
		}

		attempt = 0
		w.readUntilClosed(ctx)
	}
}

func (w *StreamWorker) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set("User-Agent", GetUserAgent())

	conn, _, err := dialer.DialContext(ctx, w.handler.GetURL(), header)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.handler.OnConnect(ctx, conn); err != nil {
		w.dropConn()
		return fmt.Errorf("stream handshake: %w", err)
	}

	if w.PingInterval > 0 {
		go w.keepAlive(ctx)
	}

	slog.Info("Stream connected", "id", w.handler.ID())
	return nil
}

// readUntilClosed pumps messages to the handler until a read fails or the
// connection is dropped.
func (w *StreamWorker) readUntilClosed(ctx context.Context) {
	for {
		c := w.current()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("Stream read failed", "id", w.handler.ID(), "err", err)
			w.dropConn()
			return
		}
		w.handler.OnMessage(ctx, msg)
	}
}

func (w *StreamWorker) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c := w.current()
			if c == nil {
				return
			}
			if err := w.handler.OnPing(ctx, c); err != nil {
				slog.Warn("Stream ping failed", "id", w.handler.ID(), "err", err)
				w.dropConn()
				return
			}
		}
	}
}

// Write sends one message on the current connection.
func (w *StreamWorker) Write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	c := w.current()
	if c == nil {
		return fmt.Errorf("stream not connected")
	}
	return c.WriteMessage(msgType, data)
}

func (w *StreamWorker) current() *websocket.Conn {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.conn
}

func (w *StreamWorker) dropConn() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}
