package api

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fmedlin/touchdb/internal/auth"
	"github.com/fmedlin/touchdb/internal/router"
)

// maxBodySize bounds request bodies, attachments included.
const maxBodySize = 64 << 20

type Options struct {
	// Auth enables bearer token authentication when set.
	Auth   auth.Validator
	Logger *slog.Logger
}

// Server adapts net/http requests to the router.
type Server struct {
	router   *router.Router
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler
}

func NewServer(r *router.Router, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		router: r,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.handler = http.HandlerFunc(s.serve)
	if opts.Auth != nil {
		s.handler = auth.Middleware(opts.Auth, opts.Logger, s.handler)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, If-Match, If-None-Match")
	w.Header().Set("Access-Control-Expose-Headers", "ETag, Location")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.handler.ServeHTTP(w, r)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, router.StatusBadRequest)
		return
	}
	req := newRouterRequest(r, body)

	if r.URL.Query().Get("feed") == "websocket" && websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, req)
		return
	}

	hw := newHTTPWriter(w)
	status := s.router.Handle(r.Context(), req, hw)
	if status == router.StatusStreaming {
		<-hw.done
	}
	s.logger.Debug("Handled request",
		"method", r.Method, "path", r.URL.Path, "status", int(hw.status), "duration", time.Since(start))
}

// newRouterRequest carries over an absolute URL so the router can build
// Location headers.
func newRouterRequest(r *http.Request, body []byte) *router.Request {
	u := *r.URL
	u.Host = r.Host
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		u.Scheme = proto
	}
	return &router.Request{
		Method: r.Method,
		URL:    &u,
		Header: r.Header,
		Body:   body,
	}
}

func writeError(w http.ResponseWriter, status router.Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(int(status))
	data, _ := router.JSONCodec{}.Marshal(router.ErrorBody(status))
	_, _ = w.Write(data)
}
