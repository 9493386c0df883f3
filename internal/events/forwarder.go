package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fmedlin/touchdb/internal/storage"
)

const publishTimeout = 5 * time.Second

// ChangeEvent is the message published for every committed revision.
type ChangeEvent struct {
	Database string `json:"db"`
	Seq      int64  `json:"seq"`
	ID       string `json:"id"`
	Rev      string `json:"rev"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// Forwarder publishes the changes of every database on <prefix>.<db>.
type Forwarder struct {
	server storage.Server
	pub    Publisher
	prefix string
	logger *slog.Logger
}

func NewForwarder(server storage.Server, pub Publisher, prefix string, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{server: server, pub: pub, prefix: prefix, logger: logger}
}

// Subject is the subject a database's changes are published on.
func (f *Forwarder) Subject(db string) string {
	return f.prefix + "." + db
}

// Run forwards changes until ctx is cancelled or the server closes.
// Publish failures are logged and the change is dropped.
func (f *Forwarder) Run(ctx context.Context) error {
	sub := f.server.Subscribe()
	defer sub.Close()

	f.logger.Info("Forwarding changes", "prefix", f.prefix)
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-sub.C():
			if !ok {
				f.logger.Info("Change stream closed")
				return nil
			}
			f.forward(ctx, change)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, change storage.Change) {
	rev := change.Revision
	data, err := json.Marshal(ChangeEvent{
		Database: change.Database,
		Seq:      rev.Sequence,
		ID:       rev.DocID,
		Rev:      rev.RevID,
		Deleted:  rev.Deleted,
	})
	if err != nil {
		f.logger.Error("Failed to encode change", "db", change.Database, "doc", rev.DocID, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := f.pub.Publish(pubCtx, f.Subject(change.Database), data); err != nil {
		f.logger.Warn("Failed to publish change", "db", change.Database, "doc", rev.DocID, "seq", rev.Sequence, "error", err)
	}
}
