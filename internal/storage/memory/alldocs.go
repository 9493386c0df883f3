package memory

import (
	"context"
	"sort"

	"github.com/fmedlin/touchdb/pkg/model"
)

func (db *Database) AllDocs(ctx context.Context, opts model.QueryOptions) (*model.QueryResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.exists {
		return nil, model.ErrNotFound
	}

	var rows []*model.QueryRow
	if opts.Keys != nil {
		for _, key := range opts.Keys {
			id, _ := key.(string)
			doc := db.docs[id]
			if doc == nil {
				rows = append(rows, &model.QueryRow{Key: key, Error: "not_found"})
				continue
			}
			rows = append(rows, allDocsRow(doc, doc.winner(), opts))
		}
	} else {
		ids := make([]string, 0, len(db.docs))
		for id := range db.docs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if opts.Descending {
			for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
		startKey, hasStart := opts.StartKey.(string)
		endKey, hasEnd := opts.EndKey.(string)
		for _, id := range ids {
			if hasStart && before(id, startKey, opts.Descending) {
				continue
			}
			if hasEnd && (before(endKey, id, opts.Descending) || (!opts.InclusiveEnd && id == endKey)) {
				break
			}
			doc := db.docs[id]
			w := doc.winner()
			if w.deleted {
				continue
			}
			rows = append(rows, allDocsRow(doc, w, opts))
		}
	}

	rows = window(rows, opts.Skip, opts.Limit)
	return &model.QueryResult{
		Rows:      rows,
		TotalRows: len(rows),
		Offset:    opts.Skip,
		UpdateSeq: db.lastSeq,
	}, nil
}

// before reports whether a sorts ahead of b in the iteration direction.
func before(a, b string, descending bool) bool {
	if descending {
		return a > b
	}
	return a < b
}

func allDocsRow(doc *document, w *revNode, opts model.QueryOptions) *model.QueryRow {
	value := map[string]interface{}{"rev": w.revID}
	if w.deleted {
		value["deleted"] = true
	}
	row := &model.QueryRow{ID: doc.id, Key: doc.id, Value: value}
	if opts.IncludeDocs && !w.deleted {
		row.Doc = doc.properties(w, opts.Content)
	}
	return row
}

func window(rows []*model.QueryRow, skip, limit int) []*model.QueryRow {
	if skip > 0 {
		if skip >= len(rows) {
			return nil
		}
		rows = rows[skip:]
	}
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
