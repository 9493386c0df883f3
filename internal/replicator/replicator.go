package replicator

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fmedlin/touchdb/internal/storage"
)

// Replicator copies revisions between a local database and a remote one,
// pulling from the remote or pushing to it. Continuous jobs keep running
// until stopped.
type Replicator struct {
	manager    *Manager
	db         storage.Database
	remote     *remoteDB
	remoteURL  *url.URL
	push       bool
	continuous bool
	sessionID  string
	logger     *slog.Logger

	mu           sync.Mutex
	createTarget bool
	filterName   string
	filterParams map[string]string
	running      bool
	started      time.Time
	processed    int
	total        int
	lastErr      error
	cancel       context.CancelFunc
	done         chan struct{}
}

func newReplicator(m *Manager, db storage.Database, remote *url.URL, push, continuous bool) *Replicator {
	sessionID := uuid.NewString()
	return &Replicator{
		manager:    m,
		db:         db,
		remote:     newRemoteDB(remote, m.client, m.cfg.AuthToken),
		remoteURL:  remote,
		push:       push,
		continuous: continuous,
		sessionID:  sessionID,
		logger: m.logger.With("session", sessionID, "db", db.Name(),
			"remote", remote.Redacted(), "push", push),
	}
}

func (r *Replicator) SessionID() string { return r.sessionID }
func (r *Replicator) Remote() *url.URL { return r.remoteURL }
func (r *Replicator) IsPush() bool { return r.push }
func (r *Replicator) IsContinuous() bool { return r.continuous }
func (r *Replicator) DB() storage.Database { return r.db }

// SetFilter names a design document filter ("ddoc/name") and its
// parameters. Pull jobs ask the remote to apply it, push jobs apply it
// locally.
func (r *Replicator) SetFilter(name string, params map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filterName = name
	r.filterParams = params
}

// SetCreateTarget makes a push job create the remote database first.
func (r *Replicator) SetCreateTarget(create bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createTarget = create
}

func (r *Replicator) ChangesProcessed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed
}

func (r *Replicator) ChangesTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *Replicator) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Err is the error the last run ended with.
func (r *Replicator) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Done is closed when the current run ends. It is nil before Start.
func (r *Replicator) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Start runs the job in the background. Starting a running job is a no-op.
func (r *Replicator) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.started = time.Now()
	if err := r.manager.register(r); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(r.manager.ctx)
	r.running = true
	r.processed, r.total = 0, 0
	r.lastErr = nil
	r.cancel = cancel
	r.done = make(chan struct{})

	r.logger.Info("Starting replication", "continuous", r.continuous)
	go r.run(ctx)
	return nil
}

// Stop cancels the job. It returns without waiting; use Done to wait.
func (r *Replicator) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Replicator) run(ctx context.Context) {
	var err error
	if r.push {
		err = r.runPush(ctx)
	} else {
		err = r.runPull(ctx)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	r.manager.unregister(r)

	r.mu.Lock()
	r.running = false
	r.lastErr = err
	done, cancel := r.done, r.cancel
	processed, total := r.processed, r.total
	r.mu.Unlock()
	cancel()

	if err != nil {
		r.logger.Warn("Replication failed", "processed", processed, "total", total, "error", err)
	} else {
		r.logger.Info("Replication stopped", "processed", processed, "total", total)
	}
	close(done)
}

func (r *Replicator) addTotal(n int) {
	r.mu.Lock()
	r.total += n
	r.mu.Unlock()
}

func (r *Replicator) addProcessed(n int) {
	r.mu.Lock()
	r.processed += n
	r.mu.Unlock()
}

func (r *Replicator) filter() (string, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterName, r.filterParams
}
