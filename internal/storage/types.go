package storage

import (
	"context"

	"github.com/fmedlin/touchdb/pkg/model"
)

// Attachment is a binary blob stored with a revision.
type Attachment struct {
	Name        string `json:"-"`
	ContentType string `json:"content_type"`
	Digest      string `json:"digest"`
	Length      int    `json:"length"`
	RevPos      int    `json:"revpos"`
	Data        []byte `json:"-"`
}

// Change is published on a Subscription every time a revision is committed.
type Change struct {
	Database string
	Revision *model.Revision
}

// Server is the registry of databases.
type Server interface {
	// DatabaseNamed returns a handle for name, which may not exist yet.
	// Invalid names fail with model.ErrInvalidName.
	DatabaseNamed(name string) (Database, error)

	// ExistingDatabaseNamed fails with model.ErrNotFound if the database was
	// never created. It never registers a new handle.
	ExistingDatabaseNamed(name string) (Database, error)

	AllDatabaseNames() []string
	AllOpenDatabases() []Database
	DeleteDatabaseNamed(name string) error

	// Subscribe delivers the changes of every database.
	Subscribe() *Subscription

	Close() error
}

// Database is one document store.
type Database interface {
	Name() string
	Exists() bool
	// Open creates the database if needed.
	Open() error
	// Create fails with model.ErrPreconditionFailed if the database exists.
	Create() error
	PublicUUID() string
	DocumentCount() int
	LastSequence() int64
	TotalDataSize() int64
	// StartTime is the instance start time in microseconds.
	StartTime() int64

	// GetDocument returns the winning revision when revID is empty.
	GetDocument(ctx context.Context, docID, revID string, opts model.ContentOptions) (*model.Revision, error)
	GetLocalDocument(ctx context.Context, docID, revID string) (*model.Revision, error)
	// AllRevisions lists a document's revisions without bodies, winner first.
	AllRevisions(ctx context.Context, docID string, onlyLeaves bool) ([]*model.Revision, error)
	LoadRevisionBody(ctx context.Context, rev *model.Revision, opts model.ContentOptions) error

	// PutRevision atomically stores rev as a child of prevRevID. Without
	// allowConflict prevRevID must be the current winning revision.
	PutRevision(ctx context.Context, rev *model.Revision, prevRevID string, allowConflict bool) (*model.Revision, error)
	PutLocalRevision(ctx context.Context, rev *model.Revision, prevRevID string) (*model.Revision, error)
	// ForceInsert splices rev and its ancestry (newest first) into the tree.
	ForceInsert(ctx context.Context, rev *model.Revision, history []string) error

	// UpdateAttachment sets, or with nil data removes, one attachment.
	UpdateAttachment(ctx context.Context, name string, data []byte, contentType, docID, prevRevID string) (*model.Revision, error)
	GetAttachment(ctx context.Context, docID, revID, name string) (*Attachment, error)

	ChangesSince(ctx context.Context, since int64, opts model.ChangesOptions, filter model.FilterFunc) ([]*model.Revision, error)
	Subscribe() *Subscription

	AllDocs(ctx context.Context, opts model.QueryOptions) (*model.QueryResult, error)
	// RevsDiff returns, per document, the revision IDs the database lacks.
	RevsDiff(ctx context.Context, revs map[string][]string) (map[string][]string, error)
	Compact(ctx context.Context) error
}
