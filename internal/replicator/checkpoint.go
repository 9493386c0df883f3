package replicator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fmedlin/touchdb/pkg/model"
)

var checkpointNamespace = uuid.MustParse("8c3d2b5e-4f3a-4a8e-9d55-6a1f0c2e7b41")

// checkpointDocID identifies the progress record of one database, remote,
// direction and filter. Recreating the database changes its UUID and so
// starts over.
func (r *Replicator) checkpointDocID() string {
	filterName, _ := r.filter()
	key := strings.Join([]string{
		r.db.PublicUUID(),
		r.remoteURL.String(),
		fmt.Sprint(r.push),
		filterName,
	}, "\n")
	return "_local/" + uuid.NewSHA1(checkpointNamespace, []byte(key)).String()
}

type checkpoint struct {
	docID string
	revID string
	seq   string
}

func (r *Replicator) loadCheckpoint(ctx context.Context) (*checkpoint, error) {
	cp := &checkpoint{docID: r.checkpointDocID()}
	rev, err := r.db.GetLocalDocument(ctx, cp.docID, "")
	if errors.Is(err, model.ErrNotFound) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.revID = rev.RevID
	cp.seq, _ = rev.Body["lastSequence"].(string)
	return cp, nil
}

func (r *Replicator) saveCheckpoint(ctx context.Context, cp *checkpoint, seq string) error {
	if seq == "" || seq == cp.seq {
		return nil
	}
	rev := &model.Revision{
		DocID: cp.docID,
		Body:  model.Body{"lastSequence": seq, "session_id": r.sessionID},
	}
	saved, err := r.db.PutLocalRevision(ctx, rev, cp.revID)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	cp.revID = saved.RevID
	cp.seq = seq
	return nil
}
