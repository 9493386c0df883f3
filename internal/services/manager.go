package services

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/fmedlin/touchdb/internal/auth"
	"github.com/fmedlin/touchdb/internal/config"
	"github.com/fmedlin/touchdb/internal/events"
	"github.com/fmedlin/touchdb/internal/logging"
	"github.com/fmedlin/touchdb/internal/replicator"
	"github.com/fmedlin/touchdb/internal/router"
	"github.com/fmedlin/touchdb/internal/storage/memory"
	"github.com/fmedlin/touchdb/internal/view"
)

type Options struct {
	// ListenHost overrides the configured server host when set.
	ListenHost string
	Version    string
}

type Manager struct {
	cfg          *config.Config
	opts         Options
	logger       *slog.Logger
	servers      []*http.Server
	serverNames  []string
	storage      *memory.Server
	views        *view.Manager
	replicator   *replicator.Manager
	router       *router.Router
	tokenService *auth.TokenService
	forwarder    *events.Forwarder
	natsConn     *nats.Conn
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	if opts.ListenHost == "" {
		opts.ListenHost = cfg.Server.Host
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: logging.Logger("services"),
	}
}

func (m *Manager) TokenService() *auth.TokenService {
	return m.tokenService
}

// Router is nil until Init.
func (m *Manager) Router() *router.Router {
	return m.router
}

// Start runs the HTTP servers and the change forwarder in the background.
func (m *Manager) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i, srv := range m.servers {
		name := m.serverNames[i]
		srv := srv
		m.logger.Info("Starting server", "name", name, "addr", srv.Addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error("Server failed", "name", name, "error", err)
			}
		}()
	}

	if m.forwarder != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := m.forwarder.Run(bgCtx); err != nil {
				m.logger.Error("Change forwarder stopped", "error", err)
			}
		}()
	}
}
