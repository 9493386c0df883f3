package router

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/fmedlin/touchdb/pkg/model"
)

// Shape is the structural form of a request path.
type Shape int

const (
	ShapeRoot Shape = iota
	ShapeServer
	ShapeDatabase
	ShapeDatabaseSpecial
	ShapeDocument
	ShapeAttachment
	ShapeDesign
	// ShapeUnmapped covers paths with segments no operation consumes.
	ShapeUnmapped
)

// Route is the interpretation of a request's method and path.
type Route struct {
	Method string
	Shape  Shape
	// Name is the underscore segment of server, database special and
	// design document operations.
	Name       string
	DB         string
	DocID      string
	Aux        string
	Attachment string
	View       string
	Op         Operation
}

// splitPath percent-decodes each segment of an escaped path. The leading
// slash and trailing empty segments are dropped.
func splitPath(escaped string) ([]string, error) {
	escaped = strings.TrimPrefix(escaped, "/")
	parts := strings.Split(escaped, "/")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	segs := make([]string, len(parts))
	for i, p := range parts {
		s, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		segs[i] = s
	}
	return segs, nil
}

func validDocID(docID string) bool {
	return docID != "" && utf8.ValidString(docID)
}

// interpretPath maps a method and decoded path segments to a route. The
// returned status is non-zero when the path itself is malformed.
func interpretPath(method string, segs []string) (Route, Status) {
	if method == "HEAD" {
		method = "GET"
	}
	r := Route{Method: method}

	switch {
	case len(segs) == 0:
		r.Shape = ShapeRoot
		r.Op = lookup(r)
		return r, 0
	case strings.HasPrefix(segs[0], "_"):
		r.Shape = ShapeServer
		r.Name = segs[0]
		r.Op = lookup(r)
		return r, 0
	}

	r.DB = segs[0]
	r.Shape = ShapeDatabase
	if len(segs) == 1 {
		r.Op = lookup(r)
		return r, 0
	}

	next := 2
	second := segs[1]
	switch {
	case second == "_design" || second == "_local":
		if len(segs) < 3 {
			return r, StatusNotFound
		}
		r.DocID = second + "/" + segs[2]
		next = 3
	case strings.HasPrefix(second, "_design") || strings.HasPrefix(second, "_local"):
		r.DocID = second
	case strings.HasPrefix(second, "_"):
		r.Shape = ShapeDatabaseSpecial
		r.Name = second
		if len(segs) > 2 {
			r.Shape = ShapeUnmapped
			r.Aux = strings.Join(segs[2:len(segs)-1], "/")
			r.Attachment = segs[len(segs)-1]
		}
		r.Op = lookup(r)
		return r, 0
	default:
		if !validDocID(second) {
			return r, StatusBadRequest
		}
		r.DocID = second
	}

	r.Shape = ShapeDocument
	if len(segs) > next {
		rest := segs[next:]
		if model.IsDesignDocID(r.DocID) && strings.HasPrefix(rest[0], "_") {
			r.Shape = ShapeDesign
			r.Name = rest[0]
			r.DocID = strings.TrimPrefix(r.DocID, "_design/")
			if len(rest) > 1 {
				r.View = rest[1]
			}
			if len(rest) > 2 {
				r.Shape = ShapeUnmapped
			}
		} else {
			r.Shape = ShapeAttachment
			r.Attachment = strings.Join(rest, "/")
		}
	}
	r.Op = lookup(r)
	return r, 0
}
