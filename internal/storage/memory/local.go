package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fmedlin/touchdb/pkg/model"
)

// Local documents live outside the revision tree: a single current
// revision with IDs "0-1", "0-2", ...

func (db *Database) GetLocalDocument(ctx context.Context, docID, revID string) (*model.Revision, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.exists {
		return nil, model.ErrNotFound
	}
	rev := db.local[docID]
	if rev == nil || (revID != "" && revID != rev.RevID) {
		return nil, model.ErrNotFound
	}
	out := rev.Copy()
	out.Body = rev.Properties()
	return out, nil
}

func (db *Database) PutLocalRevision(ctx context.Context, rev *model.Revision, prevRevID string) (*model.Revision, error) {
	if !model.IsLocalDocID(rev.DocID) {
		return nil, fmt.Errorf("%w: %q is not a local document", model.ErrBadRequest, rev.DocID)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.exists {
		return nil, model.ErrNotFound
	}

	existing := db.local[rev.DocID]
	if rev.Deleted {
		if existing == nil {
			return nil, model.ErrNotFound
		}
		if prevRevID != existing.RevID {
			return nil, model.ErrConflict
		}
		delete(db.local, rev.DocID)
		return &model.Revision{DocID: rev.DocID, RevID: prevRevID, Deleted: true}, nil
	}

	gen := 0
	if existing != nil {
		if prevRevID != existing.RevID {
			return nil, model.ErrConflict
		}
		gen = localGeneration(existing.RevID)
	} else if prevRevID != "" {
		return nil, model.ErrConflict
	}

	stored := &model.Revision{
		DocID: rev.DocID,
		RevID: "0-" + strconv.Itoa(gen+1),
		Body:  model.Body{},
	}
	if rev.Body != nil {
		stored.Body = rev.Body.UserProperties()
	}
	db.local[rev.DocID] = stored
	return stored.Copy(), nil
}

func localGeneration(revID string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(revID, "0-"))
	if err != nil {
		return 0
	}
	return n
}
