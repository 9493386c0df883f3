package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"
)

const defaultBatchSize = 100

// ErrClosed is returned when starting a job after the manager was closed.
var ErrClosed = errors.New("replicator manager closed")

// Service creates and tracks replication jobs.
type Service interface {
	Replicator(db storage.Database, remote *url.URL, push, continuous bool) (*Replicator, error)
	ActiveReplicator(db storage.Database, remote *url.URL, push bool) *Replicator
	ActiveReplicators(db storage.Database) []*Replicator
	SupportsScheme(scheme string) bool
}

// FilterResolver compiles the named filter of a design document.
type FilterResolver interface {
	FilterNamed(ctx context.Context, db storage.Database, name string, params map[string]string) (model.FilterFunc, error)
}

type Config struct {
	BatchSize      int
	ConnectTimeout time.Duration
	// AuthToken is sent as a bearer token to remote databases.
	AuthToken string
}

type jobKey struct {
	db     string
	remote string
	push   bool
}

type Manager struct {
	cfg     Config
	filters FilterResolver
	client  *http.Client
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[jobKey]*Replicator
	closed bool
	wg     sync.WaitGroup
}

var _ Service = (*Manager)(nil)

func NewManager(cfg Config, filters FilterResolver, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		filters: filters,
		client:  newClient(cfg.ConnectTimeout),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		active:  make(map[jobKey]*Replicator),
	}
}

func (m *Manager) SupportsScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "http", "https":
		return true
	}
	return false
}

func keyFor(db storage.Database, remote *url.URL, push bool) jobKey {
	return jobKey{db: db.Name(), remote: remote.String(), push: push}
}

// Replicator returns the running job for the same database, remote and
// direction, or a new idle one.
func (m *Manager) Replicator(db storage.Database, remote *url.URL, push, continuous bool) (*Replicator, error) {
	if remote == nil || !m.SupportsScheme(remote.Scheme) {
		return nil, fmt.Errorf("%w: unsupported remote %v", model.ErrBadRequest, remote)
	}
	if r := m.ActiveReplicator(db, remote, push); r != nil {
		return r, nil
	}
	return newReplicator(m, db, remote, push, continuous), nil
}

func (m *Manager) ActiveReplicator(db storage.Database, remote *url.URL, push bool) *Replicator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[keyFor(db, remote, push)]
}

// ActiveReplicators lists the running jobs of db in start order.
func (m *Manager) ActiveReplicators(db storage.Database) []*Replicator {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Replicator
	for key, r := range m.active {
		if key.db == db.Name() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].started.Before(out[j].started) })
	return out
}

func (m *Manager) register(r *Replicator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := keyFor(r.db, r.remoteURL, r.push)
	if other := m.active[key]; other != nil && other != r {
		return fmt.Errorf("%w: replication %s is already running", model.ErrConflict, other.sessionID)
	}
	m.active[key] = r
	m.wg.Add(1)
	return nil
}

func (m *Manager) unregister(r *Replicator) {
	m.mu.Lock()
	key := keyFor(r.db, r.remoteURL, r.push)
	if m.active[key] == r {
		delete(m.active, key)
	}
	m.mu.Unlock()
	m.wg.Done()
}

// Close stops every job and waits for them to exit or ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
