package memory

import (
	"context"
	"sort"

	"github.com/fmedlin/touchdb/pkg/model"
)

// ChangesSince returns the current leaf revisions of the documents changed
// after since. Without IncludeConflicts each document is reported once, as
// its winning revision stamped with the document's latest sequence; with it
// every leaf is reported, grouped by document. Documents are ordered by
// latest sequence (or by ID when SortBySequence is off) and the limit counts
// documents. The filter runs before the limit is applied.
func (db *Database) ChangesSince(ctx context.Context, since int64, opts model.ChangesOptions, filter model.FilterFunc) ([]*model.Revision, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.exists {
		return nil, model.ErrNotFound
	}

	var order []string
	latest := make(map[string]int64)
	byDoc := make(map[string][]*revNode)
	db.bySeq.AscendGreaterOrEqual(seqEntry{seq: since + 1}, func(e seqEntry) bool {
		if _, seen := byDoc[e.docID]; !seen {
			order = append(order, e.docID)
		}
		byDoc[e.docID] = append(byDoc[e.docID], db.docs[e.docID].revs[e.revID])
		latest[e.docID] = e.seq
		return true
	})
	if opts.SortBySequence {
		sort.SliceStable(order, func(i, j int) bool { return latest[order[i]] < latest[order[j]] })
	} else {
		sort.Strings(order)
	}

	var out []*model.Revision
	docs := 0
	for _, docID := range order {
		if opts.Limit > 0 && docs >= opts.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc := db.docs[docID]
		nodes := byDoc[docID]
		if opts.IncludeConflicts {
			sort.Slice(nodes, func(i, j int) bool { return beats(nodes[i], nodes[j]) })
		} else {
			nodes = []*revNode{doc.winner()}
		}
		emitted := false
		for _, n := range nodes {
			rev := doc.revision(n)
			if !opts.IncludeConflicts {
				rev.Sequence = latest[docID]
			}
			if opts.IncludeDocs || filter != nil {
				rev.Body = doc.properties(n, opts.Content)
			}
			if filter != nil && !filter(rev) {
				continue
			}
			out = append(out, rev)
			emitted = true
		}
		if emitted {
			docs++
		}
	}
	return out, nil
}
