package model

import "math"

// FilterFunc decides whether a revision is delivered by a changes feed.
// The revision body is loaded before the filter runs.
type FilterFunc func(rev *Revision) bool

// ChangesOptions control a changes query.
type ChangesOptions struct {
	Limit            int
	IncludeDocs      bool
	IncludeConflicts bool
	SortBySequence   bool
	Content          ContentOptions
}

// DefaultChangesOptions returns the options for an unrestricted feed.
func DefaultChangesOptions() ChangesOptions {
	return ChangesOptions{Limit: math.MaxInt32, SortBySequence: true}
}

// ChangeRev is one entry of a ChangeEvent's changes list.
type ChangeRev struct {
	Rev string `json:"rev"`
}

// ChangeEvent is one row of a changes feed.
type ChangeEvent struct {
	Seq     int64       `json:"seq"`
	ID      string      `json:"id"`
	Changes []ChangeRev `json:"changes"`
	Deleted bool        `json:"deleted,omitempty"`
	Doc     Body        `json:"doc,omitempty"`
}
