package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// seqEntry indexes a current leaf revision by its sequence number.
type seqEntry struct {
	seq   int64
	docID string
	revID string
}

func seqLess(a, b seqEntry) bool { return a.seq < b.seq }

// Database is an in-memory storage.Database. All mutations happen under a
// single write lock, which makes conditional puts atomic.
type Database struct {
	name   string
	server *Server

	mu        sync.RWMutex
	exists    bool
	uuid      string
	startTime int64
	docs      map[string]*document
	local     map[string]*model.Revision
	bySeq     *btree.BTreeG[seqEntry]
	lastSeq   int64
	dataSize  int64
	notifier  *storage.Notifier
}

var _ storage.Database = (*Database)(nil)

func newDatabase(name string, server *Server) *Database {
	db := &Database{name: name, server: server, notifier: storage.NewNotifier()}
	db.reset()
	return db
}

func (db *Database) reset() {
	db.docs = make(map[string]*document)
	db.local = make(map[string]*model.Revision)
	db.bySeq = btree.NewG[seqEntry](32, seqLess)
	db.lastSeq = 0
	db.dataSize = 0
}

func (db *Database) Name() string { return db.name }

func (db *Database) Exists() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.exists
}

func (db *Database) Open() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.exists {
		db.createLocked()
	}
	return nil
}

func (db *Database) Create() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.exists {
		return fmt.Errorf("%w: database %q exists", model.ErrPreconditionFailed, db.name)
	}
	db.createLocked()
	return nil
}

func (db *Database) createLocked() {
	db.exists = true
	db.uuid = uuid.New().String()
	db.startTime = time.Now().UnixMicro()
	db.server.logger.Info("Created database", "db", db.name)
}

// drop deletes all content and ends every subscription.
func (db *Database) drop() {
	db.mu.Lock()
	db.exists = false
	db.reset()
	old := db.notifier
	db.notifier = storage.NewNotifier()
	db.mu.Unlock()
	old.Close()
}

func (db *Database) PublicUUID() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.uuid
}

func (db *Database) StartTime() int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.startTime
}

func (db *Database) DocumentCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	count := 0
	for _, doc := range db.docs {
		if w := doc.winner(); w != nil && !w.deleted {
			count++
		}
	}
	return count
}

func (db *Database) LastSequence() int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.lastSeq
}

func (db *Database) TotalDataSize() int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.dataSize
}

func (db *Database) GetDocument(ctx context.Context, docID, revID string, opts model.ContentOptions) (*model.Revision, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.exists {
		return nil, model.ErrNotFound
	}
	doc := db.docs[docID]
	if doc == nil {
		return nil, model.ErrNotFound
	}
	var n *revNode
	if revID == "" {
		n = doc.winner()
		if n == nil || n.deleted {
			return nil, model.ErrNotFound
		}
	} else {
		n = doc.revs[revID]
		if n == nil || n.body == nil {
			return nil, model.ErrNotFound
		}
	}
	rev := doc.revision(n)
	rev.Body = doc.properties(n, opts)
	return rev, nil
}

func (db *Database) AllRevisions(ctx context.Context, docID string, onlyLeaves bool) ([]*model.Revision, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.exists {
		return nil, model.ErrNotFound
	}
	doc := db.docs[docID]
	if doc == nil {
		return nil, model.ErrNotFound
	}
	var nodes []*revNode
	if onlyLeaves {
		nodes = doc.leaves()
	} else {
		for _, n := range doc.revs {
			nodes = append(nodes, n)
		}
		sort.Slice(nodes, func(i, j int) bool { return model.CompareRevIDs(nodes[i].revID, nodes[j].revID) > 0 })
	}
	revs := make([]*model.Revision, 0, len(nodes))
	for _, n := range nodes {
		revs = append(revs, doc.revision(n))
	}
	return revs, nil
}

func (db *Database) LoadRevisionBody(ctx context.Context, rev *model.Revision, opts model.ContentOptions) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	doc := db.docs[rev.DocID]
	if doc == nil {
		return model.ErrNotFound
	}
	n := doc.revs[rev.RevID]
	if n == nil || n.body == nil {
		return model.ErrNotFound
	}
	rev.Deleted = n.deleted
	rev.Sequence = n.seq
	rev.Body = doc.properties(n, opts)
	return nil
}

func (db *Database) PutRevision(ctx context.Context, rev *model.Revision, prevRevID string, allowConflict bool) (*model.Revision, error) {
	if rev.DocID == "" || model.IsLocalDocID(rev.DocID) {
		return nil, fmt.Errorf("%w: cannot store %q in the revision tree", model.ErrBadRequest, rev.DocID)
	}

	db.mu.Lock()
	if !db.exists {
		db.mu.Unlock()
		return nil, model.ErrNotFound
	}

	doc := db.docs[rev.DocID]
	var parent *revNode
	switch {
	case prevRevID != "":
		if doc == nil {
			db.mu.Unlock()
			return nil, model.ErrNotFound
		}
		parent = doc.revs[prevRevID]
		if parent == nil || parent.stub {
			db.mu.Unlock()
			return nil, model.ErrConflict
		}
		if allowConflict {
			if !parent.leaf {
				db.mu.Unlock()
				return nil, model.ErrConflict
			}
		} else if doc.winner().revID != prevRevID {
			db.mu.Unlock()
			return nil, model.ErrConflict
		}
	case doc != nil:
		w := doc.winner()
		if !w.deleted {
			db.mu.Unlock()
			return nil, model.ErrConflict
		}
		if rev.Deleted {
			db.mu.Unlock()
			return nil, model.ErrNotFound
		}
		parent = w
	default:
		if rev.Deleted {
			db.mu.Unlock()
			return nil, model.ErrNotFound
		}
		doc = newDocument(rev.DocID)
	}

	gen := 1
	if parent != nil {
		gen, _, _ = model.ParseRevID(parent.revID)
		gen++
	}
	body, atts, err := prepareBody(rev.Body, parent, gen, false)
	if err != nil {
		db.mu.Unlock()
		return nil, err
	}
	n, err := db.commit(doc, parent, gen, body, atts, rev.Deleted)
	if err != nil {
		db.mu.Unlock()
		return nil, err
	}
	out := doc.revision(n)
	out.Body = doc.properties(n, 0)
	db.publishLocked(out)
	db.mu.Unlock()
	return out, nil
}

// commit computes the new revision ID and inserts the node. Caller holds the write lock.
func (db *Database) commit(doc *document, parent *revNode, gen int, body model.Body, atts map[string]*storage.Attachment, deleted bool) (*revNode, error) {
	prevRevID := ""
	if parent != nil {
		prevRevID = parent.revID
	}
	revID, err := storage.CalculateRevID(gen, prevRevID, deleted, digestInput(body, atts))
	if err != nil {
		return nil, err
	}
	if doc.revs[revID] != nil {
		return nil, model.ErrConflict
	}
	n := &revNode{
		revID:       revID,
		parent:      prevRevID,
		deleted:     deleted,
		body:        body,
		attachments: atts,
	}
	db.insert(doc, n, parent)
	return n, nil
}

// insert links n under parent as a new leaf with the next sequence number.
func (db *Database) insert(doc *document, n, parent *revNode) {
	if parent != nil {
		db.retire(parent)
		n.parent = parent.revID
	}
	db.lastSeq++
	n.seq = db.lastSeq
	n.leaf = true
	doc.revs[n.revID] = n
	db.docs[doc.id] = doc
	db.bySeq.ReplaceOrInsert(seqEntry{seq: n.seq, docID: doc.id, revID: n.revID})
	db.dataSize += bodySize(n.body)
	for _, a := range n.attachments {
		db.dataSize += int64(a.Length)
	}
}

// retire marks n as an inner node, dropping it from the sequence index.
func (db *Database) retire(n *revNode) {
	if !n.leaf {
		return
	}
	n.leaf = false
	if n.seq > 0 {
		db.bySeq.Delete(seqEntry{seq: n.seq})
	}
}

func (db *Database) ForceInsert(ctx context.Context, rev *model.Revision, history []string) error {
	if rev.DocID == "" || model.IsLocalDocID(rev.DocID) || len(history) == 0 || history[0] != rev.RevID {
		return fmt.Errorf("%w: revision history must start with %q", model.ErrBadRequest, rev.RevID)
	}
	gen, _, ok := model.ParseRevID(rev.RevID)
	if !ok {
		return fmt.Errorf("%w: invalid revision ID %q", model.ErrBadRequest, rev.RevID)
	}
	for i, revID := range history {
		g, _, ok := model.ParseRevID(revID)
		if !ok || g != gen-i {
			return fmt.Errorf("%w: revision history is not contiguous at %q", model.ErrBadRequest, revID)
		}
	}

	db.mu.Lock()
	if !db.exists {
		db.mu.Unlock()
		return model.ErrNotFound
	}
	doc := db.docs[rev.DocID]
	if doc == nil {
		doc = newDocument(rev.DocID)
	}
	if n := doc.revs[rev.RevID]; n != nil && !n.stub {
		db.mu.Unlock()
		return nil
	}

	var parent *revNode
	if len(history) > 1 {
		parent = doc.revs[history[1]]
	}
	body, atts, err := prepareBody(rev.Body, parent, gen, true)
	if err != nil {
		db.mu.Unlock()
		return err
	}

	if n := doc.revs[rev.RevID]; n != nil {
		// Known only as an ancestor so far; fill in the content.
		n.stub = false
		n.deleted = rev.Deleted
		n.body = body
		n.attachments = atts
		db.mu.Unlock()
		return nil
	}

	parent = nil
	for i := len(history) - 1; i > 0; i-- {
		if n := doc.revs[history[i]]; n != nil {
			parent = n
			continue
		}
		stub := &revNode{revID: history[i], stub: true}
		if parent != nil {
			db.retire(parent)
			stub.parent = parent.revID
		}
		doc.revs[stub.revID] = stub
		parent = stub
	}
	n := &revNode{revID: rev.RevID, deleted: rev.Deleted, body: body, attachments: atts}
	db.insert(doc, n, parent)
	out := doc.revision(n)
	out.Body = doc.properties(n, 0)
	db.publishLocked(out)
	db.mu.Unlock()
	return nil
}

func (db *Database) RevsDiff(ctx context.Context, revs map[string][]string) (map[string][]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.exists {
		return nil, model.ErrNotFound
	}
	missing := make(map[string][]string)
	for docID, revIDs := range revs {
		doc := db.docs[docID]
		for _, revID := range revIDs {
			if doc != nil {
				if n := doc.revs[revID]; n != nil && !n.stub {
					continue
				}
			}
			missing[docID] = append(missing[docID], revID)
		}
	}
	return missing, nil
}

// Compact discards the bodies of non-leaf revisions.
func (db *Database) Compact(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.exists {
		return model.ErrNotFound
	}
	for _, doc := range db.docs {
		for _, n := range doc.revs {
			if n.leaf || n.body == nil {
				continue
			}
			db.dataSize -= bodySize(n.body)
			for _, a := range n.attachments {
				db.dataSize -= int64(a.Length)
			}
			n.body = nil
			n.attachments = nil
		}
	}
	return nil
}

func (db *Database) Subscribe() *storage.Subscription {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.notifier.Subscribe()
}

// SubscriberCount returns the number of open change subscriptions.
func (db *Database) SubscriberCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.notifier.Len()
}

// publishLocked queues rev for subscribers. Caller holds the write lock, so
// subscribers see changes in sequence order.
func (db *Database) publishLocked(rev *model.Revision) {
	change := storage.Change{Database: db.name, Revision: rev}
	db.notifier.Publish(change)
	db.server.notifier.Publish(change)
}

func bodySize(body model.Body) int64 {
	if body == nil {
		return 0
	}
	data, err := json.Marshal(body)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
