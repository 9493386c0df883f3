package view

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"

	"github.com/google/btree"
)

type row struct {
	key   interface{}
	value interface{}
	docID string
	// n distinguishes several emits of the same key by one document.
	n int
}

// View is a map/reduce index over one database. It is brought up to date
// lazily by UpdateIndex.
type View struct {
	name   string
	db     storage.Database
	logger *slog.Logger

	mu           sync.Mutex
	mapFn        MapFunc
	reduceFn     ReduceFunc
	mapSource    string
	reduceSource string
	designRev    string
	collation    Collation
	rows         *btree.BTreeG[row]
	byDoc        map[string][]row
	lastSeq      int64
	dbUUID       string
}

func newView(name string, db storage.Database, logger *slog.Logger) *View {
	v := &View{name: name, db: db, logger: logger}
	v.resetLocked()
	return v
}

func (v *View) resetLocked() {
	coll := v.collation
	v.rows = btree.NewG[row](32, func(a, b row) bool {
		if c := coll.Compare(a.key, b.key); c != 0 {
			return c < 0
		}
		if a.docID != b.docID {
			return a.docID < b.docID
		}
		return a.n < b.n
	})
	v.byDoc = make(map[string][]row)
	v.lastSeq = 0
}

// Name is "<design doc>/<view>".
func (v *View) Name() string { return v.name }

func (v *View) IsCompiled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mapFn != nil
}

// DesignRev is the design document revision the functions were compiled from.
func (v *View) DesignRev() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.designRev
}

func (v *View) HasReduce() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reduceFn != nil
}

func (v *View) Collation() Collation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.collation
}

// SetFunctions installs compiled functions. The index is discarded when the
// sources or the collation differ from the previous ones; the return value
// reports whether that happened.
func (v *View) SetFunctions(mapFn MapFunc, reduceFn ReduceFunc, mapSource, reduceSource string, collation Collation, designRev string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	changed := mapSource != v.mapSource || reduceSource != v.reduceSource || collation != v.collation
	v.mapFn = mapFn
	v.reduceFn = reduceFn
	v.mapSource = mapSource
	v.reduceSource = reduceSource
	v.designRev = designRev
	if changed {
		v.collation = collation
		v.resetLocked()
	}
	return changed
}

func (v *View) LastSequenceIndexed() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastSeq
}

// UpdateIndex maps every document changed since the last update.
func (v *View) UpdateIndex(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mapFn == nil {
		return fmt.Errorf("view %s has no map function", v.name)
	}
	if id := v.db.PublicUUID(); id != v.dbUUID {
		v.resetLocked()
		v.dbUUID = id
	}

	last := v.db.LastSequence()
	if last <= v.lastSeq {
		return nil
	}

	opts := model.DefaultChangesOptions()
	opts.IncludeDocs = true
	revs, err := v.db.ChangesSince(ctx, v.lastSeq, opts, nil)
	if err != nil {
		return fmt.Errorf("update view %s: %w", v.name, err)
	}

	for _, rev := range revs {
		for _, r := range v.byDoc[rev.DocID] {
			v.rows.Delete(r)
		}
		delete(v.byDoc, rev.DocID)
		if rev.Sequence > last {
			last = rev.Sequence
		}
		if rev.Deleted || model.IsDesignDocID(rev.DocID) {
			continue
		}

		emits, err := v.mapFn(rev.Body)
		if err != nil {
			v.logger.Warn("Map function failed", "view", v.name, "doc", rev.DocID, "error", err)
			continue
		}
		for i, e := range emits {
			r := row{key: e.Key, value: e.Value, docID: rev.DocID, n: i}
			v.rows.ReplaceOrInsert(r)
			v.byDoc[rev.DocID] = append(v.byDoc[rev.DocID], r)
		}
	}
	v.lastSeq = last
	v.logger.Debug("Updated view index", "view", v.name, "seq", last, "rows", v.rows.Len())
	return nil
}

// Query reads rows from the index as it currently stands.
func (v *View) Query(ctx context.Context, opts model.QueryOptions) ([]*model.QueryRow, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	matched := v.scanLocked(opts)

	if v.reduceFn != nil && opts.Reduce {
		if opts.IncludeDocs {
			return nil, fmt.Errorf("%w: include_docs is invalid for reduce", model.ErrBadRequest)
		}
		level := opts.GroupLevel
		if opts.Group {
			level = -1
		}
		reduced, err := v.reduceLocked(matched, level)
		if err != nil {
			return nil, err
		}
		return window(reduced, opts.Skip, opts.Limit), nil
	}

	matched = window(matched, opts.Skip, opts.Limit)
	out := make([]*model.QueryRow, 0, len(matched))
	for _, r := range matched {
		qr := &model.QueryRow{ID: r.docID, Key: r.key, Value: r.value}
		if opts.IncludeDocs {
			qr.Doc = v.linkedDoc(ctx, r, opts.Content)
		}
		out = append(out, qr)
	}
	return out, nil
}

func (v *View) scanLocked(opts model.QueryOptions) []row {
	cmp := v.collation.Compare
	var matched []row

	if opts.Keys != nil {
		for _, key := range opts.Keys {
			v.rows.AscendGreaterOrEqual(row{key: key}, func(r row) bool {
				if cmp(r.key, key) != 0 {
					return false
				}
				matched = append(matched, r)
				return true
			})
		}
		return matched
	}

	if !opts.Descending {
		visit := func(r row) bool {
			if opts.EndKey != nil {
				c := cmp(r.key, opts.EndKey)
				if c > 0 || (c == 0 && !opts.InclusiveEnd) {
					return false
				}
			}
			matched = append(matched, r)
			return true
		}
		if opts.StartKey != nil {
			v.rows.AscendGreaterOrEqual(row{key: opts.StartKey}, visit)
		} else {
			v.rows.Ascend(visit)
		}
		return matched
	}

	v.rows.Descend(func(r row) bool {
		if opts.StartKey != nil && cmp(r.key, opts.StartKey) > 0 {
			return true
		}
		if opts.EndKey != nil {
			c := cmp(r.key, opts.EndKey)
			if c < 0 || (c == 0 && !opts.InclusiveEnd) {
				return false
			}
		}
		matched = append(matched, r)
		return true
	})
	return matched
}

// reduceLocked folds rows into groups. level 0 reduces everything into one
// row, a negative level groups by the exact key, and a positive level groups
// array keys by their first level elements.
func (v *View) reduceLocked(rows []row, level int) ([]*model.QueryRow, error) {
	if len(rows) == 0 {
		return []*model.QueryRow{}, nil
	}
	if level == 0 {
		value, err := v.reduceGroup(rows)
		if err != nil {
			return nil, err
		}
		return []*model.QueryRow{{Key: nil, Value: value}}, nil
	}

	var out []*model.QueryRow
	start := 0
	groupKey := truncateKey(rows[0].key, level)
	for i := 1; i <= len(rows); i++ {
		var next interface{}
		if i < len(rows) {
			next = truncateKey(rows[i].key, level)
			if v.collation.Compare(next, groupKey) == 0 {
				continue
			}
		}
		value, err := v.reduceGroup(rows[start:i])
		if err != nil {
			return nil, err
		}
		out = append(out, &model.QueryRow{Key: groupKey, Value: value})
		start = i
		groupKey = next
	}
	return out, nil
}

func (v *View) reduceGroup(rows []row) (interface{}, error) {
	keys := make([]interface{}, len(rows))
	values := make([]interface{}, len(rows))
	for i, r := range rows {
		keys[i] = []interface{}{r.key, r.docID}
		values[i] = r.value
	}
	value, err := v.reduceFn(keys, values, false)
	if err != nil {
		return nil, fmt.Errorf("reduce %s: %w", v.name, err)
	}
	return value, nil
}

func truncateKey(key interface{}, level int) interface{} {
	if level < 0 {
		return key
	}
	if arr, ok := key.([]interface{}); ok && len(arr) > level {
		return arr[:level]
	}
	return key
}

// linkedDoc loads the row's document, or the one named by an "_id" in the
// emitted value.
func (v *View) linkedDoc(ctx context.Context, r row, content model.ContentOptions) model.Body {
	docID := r.docID
	if m, ok := r.value.(map[string]interface{}); ok {
		if id, ok := m["_id"].(string); ok && id != "" {
			docID = id
		}
	}
	rev, err := v.db.GetDocument(ctx, docID, "", content)
	if err != nil {
		return nil
	}
	return rev.Body
}

func window[T any](rows []T, skip, limit int) []T {
	if skip > 0 {
		if skip >= len(rows) {
			return []T{}
		}
		rows = rows[skip:]
	}
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
