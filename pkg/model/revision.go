package model

import (
	"strings"

	"github.com/google/uuid"
)

// Body is a decoded JSON document.
type Body map[string]interface{}

// Revision represents one version of a document.
type Revision struct {
	DocID    string
	RevID    string
	Deleted  bool
	Sequence int64
	// Body holds the user properties; nil until loaded.
	Body Body
}

// NewRevisionFromBody builds a revision from a document body, picking up
// the _id, _rev and _deleted special properties.
func NewRevisionFromBody(body Body) *Revision {
	rev := &Revision{Body: body}
	if body == nil {
		return rev
	}
	rev.DocID, _ = body["_id"].(string)
	rev.RevID, _ = body["_rev"].(string)
	rev.Deleted, _ = body["_deleted"].(bool)
	return rev
}

// Generation returns the numeric prefix of the revision ID, 0 if unparseable.
func (r *Revision) Generation() int {
	gen, _, _ := ParseRevID(r.RevID)
	return gen
}

// Properties returns a copy of the body with the special properties set.
func (r *Revision) Properties() Body {
	props := make(Body, len(r.Body)+3)
	for k, v := range r.Body {
		props[k] = v
	}
	props["_id"] = r.DocID
	if r.RevID != "" {
		props["_rev"] = r.RevID
	}
	if r.Deleted {
		props["_deleted"] = true
	} else {
		delete(props, "_deleted")
	}
	return props
}

// Copy returns a shallow copy with its own body map.
func (r *Revision) Copy() *Revision {
	c := *r
	if r.Body != nil {
		c.Body = make(Body, len(r.Body))
		for k, v := range r.Body {
			c.Body[k] = v
		}
	}
	return &c
}

// UserProperties returns the body without any underscore-prefixed keys.
func (b Body) UserProperties() Body {
	out := make(Body, len(b))
	for k, v := range b {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// IsLocalDocID reports whether docID names a non-replicated local document.
func IsLocalDocID(docID string) bool {
	return strings.HasPrefix(docID, "_local/")
}

// IsDesignDocID reports whether docID names a design document.
func IsDesignDocID(docID string) bool {
	return strings.HasPrefix(docID, "_design/")
}

// GenerateDocumentID returns a fresh 32 hex character identifier.
func GenerateDocumentID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
