package model

import (
	"encoding/json"
	"math"
)

// ContentOptions selects extra properties added to a document body.
type ContentOptions uint

const (
	IncludeAttachments ContentOptions = 1 << iota
	IncludeLocalSeq
	IncludeConflicts
	IncludeRevs
	IncludeRevsInfo
)

// Has reports whether every bit of o is set.
func (c ContentOptions) Has(o ContentOptions) bool { return c&o == o }

// QueryOptions are the options shared by _all_docs and view queries.
type QueryOptions struct {
	Skip         int
	Limit        int
	StartKey     interface{}
	EndKey       interface{}
	Keys         []interface{}
	Descending   bool
	Group        bool
	GroupLevel   int
	Reduce       bool
	IncludeDocs  bool
	UpdateSeq    bool
	InclusiveEnd bool
	Content      ContentOptions
}

// DefaultQueryOptions returns the options used when no query parameters are given.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		Limit:        math.MaxInt32,
		Reduce:       true,
		InclusiveEnd: true,
	}
}

// QueryRow is one row of a view or _all_docs result.
type QueryRow struct {
	ID    string      `json:"id,omitempty"`
	Key   interface{} `json:"key"`
	Value interface{} `json:"value"`
	Doc   Body        `json:"doc,omitempty"`
	Error string      `json:"error,omitempty"`
}

// MarshalJSON renders error rows as {"key","error"} and other rows with an
// explicit value, null included.
func (r *QueryRow) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Key   interface{} `json:"key"`
			Error string      `json:"error"`
		}{r.Key, r.Error})
	}
	type row struct {
		ID    string      `json:"id,omitempty"`
		Key   interface{} `json:"key"`
		Value interface{} `json:"value"`
		Doc   Body        `json:"doc,omitempty"`
	}
	return json.Marshal(row{ID: r.ID, Key: r.Key, Value: r.Value, Doc: r.Doc})
}

// QueryResult is the outcome of an _all_docs query.
type QueryResult struct {
	Rows      []*QueryRow
	TotalRows int
	Offset    int
	UpdateSeq int64
}
