package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fmedlin/touchdb/internal/router"
)

const wsWriteTimeout = 10 * time.Second

// wsWriter sends each line of a continuous changes feed as one text
// message. A non-streaming response is sent as a single message before the
// connection is closed.
type wsWriter struct {
	conn   *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex
	status router.Status
	done   chan struct{}
	once   sync.Once
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, req *router.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "path", r.URL.Path, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The read loop notices the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("WebSocket read ended", "path", r.URL.Path, "error", err)
				}
				return
			}
		}
	}()

	ww := &wsWriter{conn: conn, logger: s.logger, done: make(chan struct{})}
	if s.router.Handle(ctx, req, ww) == router.StatusStreaming {
		<-ww.done
	}
	ww.close()
}

func (w *wsWriter) Ready(resp *router.Response) error {
	w.mu.Lock()
	w.status = resp.Status
	w.mu.Unlock()
	return nil
}

func (w *wsWriter) Write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, line := range bytes.Split(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := w.conn.WriteMessage(websocket.TextMessage, line); err != nil {
			w.logger.Debug("WebSocket write failed", "error", err)
			return err
		}
	}
	return nil
}

func (w *wsWriter) Finish() {
	w.once.Do(func() { close(w.done) })
}

func (w *wsWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	code := websocket.CloseNormalClosure
	if !w.status.IsSuccessful() {
		code = websocket.CloseInternalServerErr
	}
	msg := websocket.FormatCloseMessage(code, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
