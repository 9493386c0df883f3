package services

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/nats-io/nats.go"

	"github.com/fmedlin/touchdb/internal/api"
	"github.com/fmedlin/touchdb/internal/auth"
	"github.com/fmedlin/touchdb/internal/events"
	"github.com/fmedlin/touchdb/internal/logging"
	"github.com/fmedlin/touchdb/internal/replicator"
	"github.com/fmedlin/touchdb/internal/router"
	"github.com/fmedlin/touchdb/internal/storage/memory"
	"github.com/fmedlin/touchdb/internal/view"
)

var (
	natsConnector         = nats.Connect
	eventPublisherFactory = func(nc *nats.Conn) (events.Publisher, error) {
		return events.NewJetStreamPublisher(nc)
	}
)

type streamEnsurer interface {
	EnsureStream(ctx context.Context, name, prefix string) error
}

func (m *Manager) Init(ctx context.Context) error {
	if err := m.initCore(); err != nil {
		return err
	}
	if m.cfg.Auth.Enabled {
		if err := m.initTokenService(); err != nil {
			return err
		}
	}
	if err := m.initAPIServer(); err != nil {
		return err
	}
	if m.cfg.Events.Enabled {
		if err := m.initEvents(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) initCore() error {
	m.storage = memory.NewServer(logging.Logger("storage"))

	views, err := view.NewManager(m.cfg.Views.Language, logging.Logger("views"))
	if err != nil {
		return fmt.Errorf("failed to create view manager: %w", err)
	}
	m.views = views

	m.replicator = replicator.NewManager(replicator.Config{
		BatchSize:      m.cfg.Replication.BatchSize,
		ConnectTimeout: m.cfg.Replication.ConnectTimeout,
		AuthToken:      m.cfg.Replication.AuthToken,
	}, views, logging.Logger("replicator"))

	m.router = router.New(router.Options{
		Server:     m.storage,
		Views:      m.views,
		Replicator: m.replicator,
		Codec:      router.JSONCodec{Indent: m.cfg.Server.PrettyJSON},
		Logger:     logging.Logger("router"),
		Version:    m.opts.Version,
	})
	return nil
}

func (m *Manager) initTokenService() error {
	key, err := auth.LoadOrGeneratePrivateKey(m.cfg.Auth.PrivateKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load private key: %w", err)
	}
	ts, err := auth.NewTokenService(key, m.cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}
	m.tokenService = ts
	return nil
}

func (m *Manager) initAPIServer() error {
	if m.router == nil {
		return fmt.Errorf("router not initialized")
	}
	opts := api.Options{Logger: logging.Logger("api")}
	if m.tokenService != nil {
		opts.Auth = m.tokenService
	}
	srv := &http.Server{
		Addr:    listenAddr(m.opts.ListenHost, m.cfg.Server.Port),
		Handler: api.NewServer(m.router, opts),
	}
	m.servers = append(m.servers, srv)
	m.serverNames = append(m.serverNames, "TouchDB HTTP")
	return nil
}

func (m *Manager) initEvents(ctx context.Context) error {
	nc, err := natsConnector(m.cfg.Events.NatsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	m.natsConn = nc

	pub, err := eventPublisherFactory(nc)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	if m.cfg.Events.Stream != "" {
		if s, ok := pub.(streamEnsurer); ok {
			if err := s.EnsureStream(ctx, m.cfg.Events.Stream, m.cfg.Events.SubjectPrefix); err != nil {
				return err
			}
		}
	}
	m.forwarder = events.NewForwarder(m.storage, pub, m.cfg.Events.SubjectPrefix, logging.Logger("events"))
	return nil
}

func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
