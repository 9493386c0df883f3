package replicator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"
)

func (r *Replicator) runPush(ctx context.Context) error {
	r.mu.Lock()
	createTarget := r.createTarget
	r.mu.Unlock()
	if createTarget {
		if _, err := r.remote.do(ctx, "PUT", "", nil, nil, nil, http.StatusPreconditionFailed); err != nil {
			return fmt.Errorf("create target: %w", err)
		}
	}

	var filter model.FilterFunc
	if name, params := r.filter(); name != "" {
		if r.manager.filters == nil {
			return fmt.Errorf("%w: filter %q", model.ErrNotFound, name)
		}
		f, err := r.manager.filters.FilterNamed(ctx, r.db, name, params)
		if err != nil {
			return err
		}
		filter = f
	}

	cp, err := r.loadCheckpoint(ctx)
	if err != nil {
		return err
	}
	var since int64
	if cp.seq != "" {
		since, _ = strconv.ParseInt(cp.seq, 10, 64)
	}

	var sub *storage.Subscription
	if r.continuous {
		sub = r.db.Subscribe()
		defer sub.Close()
	}

	opts := model.DefaultChangesOptions()
	opts.Limit = r.manager.cfg.BatchSize
	opts.IncludeConflicts = true
	for {
		changes, err := r.db.ChangesSince(ctx, since, opts, filter)
		if err != nil {
			return fmt.Errorf("read local changes: %w", err)
		}
		if len(changes) == 0 {
			if !r.continuous {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-sub.C():
				if !ok {
					return nil
				}
			}
			continue
		}

		r.addTotal(len(changes))
		if err := r.pushBatch(ctx, changes); err != nil {
			return err
		}
		r.addProcessed(len(changes))

		for _, rev := range changes {
			if rev.Sequence > since {
				since = rev.Sequence
			}
		}
		if err := r.saveCheckpoint(ctx, cp, strconv.FormatInt(since, 10)); err != nil {
			return err
		}
	}
}

// pushBatch sends the revisions the remote lacks, with their history and
// attachments, as a non-editing bulk update.
func (r *Replicator) pushBatch(ctx context.Context, changes []*model.Revision) error {
	diff := make(map[string][]string)
	for _, rev := range changes {
		diff[rev.DocID] = append(diff[rev.DocID], rev.RevID)
	}
	var missing map[string]struct {
		Missing []string `json:"missing"`
	}
	if _, err := r.remote.do(ctx, "POST", "_revs_diff", nil, diff, &missing); err != nil {
		return fmt.Errorf("remote revs diff: %w", err)
	}

	docIDs := make([]string, 0, len(missing))
	for docID := range missing {
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)

	var docs []interface{}
	for _, docID := range docIDs {
		for _, revID := range missing[docID].Missing {
			rev, err := r.db.GetDocument(ctx, docID, revID, model.IncludeRevs|model.IncludeAttachments)
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("load %s %s: %w", docID, revID, err)
			}
			docs = append(docs, rev.Body)
		}
	}
	if len(docs) == 0 {
		return nil
	}

	var results []map[string]interface{}
	body := map[string]interface{}{"docs": docs, "new_edits": false}
	if _, err := r.remote.do(ctx, "POST", "_bulk_docs", nil, body, &results); err != nil {
		return fmt.Errorf("remote bulk docs: %w", err)
	}
	for _, item := range results {
		if e, ok := item["error"]; ok {
			r.logger.Warn("Remote rejected revision", "doc", item["id"], "error", e, "reason", item["reason"])
		}
	}
	return nil
}
