package router

import (
	"errors"
	"strings"

	"github.com/fmedlin/touchdb/pkg/model"
)

// ifMatchRevID returns the revision ID quoted in the If-Match header.
func (c *call) ifMatchRevID() string {
	v := strings.TrimSpace(c.req.Header.Get("If-Match"))
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		v = v[1 : len(v)-1]
	}
	return v
}

func (c *call) documentURL(docID string) string {
	u := c.databaseURL()
	u.Path += "/" + docID
	return u.String()
}

// updateDocument creates, updates or deletes a document on behalf of
// PUT, POST and DELETE. docID is empty for POST.
func (c *call) updateDocument(docID string, body model.Body, deleting, allowConflict bool) (*model.Revision, Status) {
	var prevRevID string
	if !deleting {
		if body == nil {
			return nil, StatusBadRequest
		}
		deleting, _ = body["_deleted"].(bool)
		if docID == "" {
			docID, _ = body["_id"].(string)
			switch {
			case docID != "" && model.IsLocalDocID(docID):
				return nil, StatusMethodNotAllowed
			case docID == "" && deleting:
				return nil, StatusBadRequest
			case docID == "":
				docID = model.GenerateDocumentID()
			}
		}
		prevRevID, _ = body["_rev"].(string)
	} else {
		prevRevID = c.query("rev")
	}
	if prevRevID == "" {
		prevRevID = c.ifMatchRevID()
	}

	rev, st := c.putDocument(docID, body, deleting, allowConflict, prevRevID)
	if !st.IsSuccessful() {
		return nil, st
	}
	c.resp.Header.Set("ETag", `"`+rev.RevID+`"`)
	if !deleting {
		c.resp.Header.Set("Location", c.documentURL(docID))
	}
	c.resp.Body = map[string]interface{}{"ok": true, "id": rev.DocID, "rev": rev.RevID}
	return rev, st
}

// putDocument stores one revision without touching the response.
func (c *call) putDocument(docID string, body model.Body, deleting, allowConflict bool, prevRevID string) (*model.Revision, Status) {
	if body != nil {
		if d, ok := body["_deleted"].(bool); ok && d {
			deleting = true
		}
	}
	if !validDocID(docID) {
		if docID == "" && !deleting {
			docID = model.GenerateDocumentID()
		} else {
			return nil, StatusBadRequest
		}
	}
	rev := &model.Revision{DocID: docID, Deleted: deleting, Body: body}

	var (
		result *model.Revision
		err    error
	)
	if model.IsLocalDocID(docID) {
		result, err = c.db.PutLocalRevision(c.ctx, rev, prevRevID)
	} else {
		result, err = c.db.PutRevision(c.ctx, rev, prevRevID, allowConflict)
	}
	if err != nil {
		if !errors.Is(err, model.ErrConflict) && !errors.Is(err, model.ErrNotFound) {
			c.router.logger.Warn("Failed to store revision", "db", c.db.Name(), "doc", docID, "error", err)
		}
		return nil, statusFromError(err)
	}
	if deleting {
		return result, StatusOK
	}
	return result, StatusCreated
}

// forceInsert stores a revision with its history as it comes from a
// replication source, without conflict checking.
func (c *call) forceInsert(docID string, body model.Body) Status {
	rev := model.NewRevisionFromBody(body)
	if rev.RevID == "" || rev.DocID == "" || rev.DocID != docID {
		return StatusBadRequest
	}
	history := model.ParseRevisionHistory(body)
	if history == nil {
		history = []string{rev.RevID}
	}
	if err := c.db.ForceInsert(c.ctx, rev, history); err != nil {
		return statusFromError(err)
	}
	return StatusCreated
}

func handlePutDocument(c *call) Status {
	body, ok := c.jsonBody()
	if !ok {
		return StatusBadRequest
	}
	docID := c.route.DocID
	if newEdits := c.query("new_edits"); newEdits == "" || strings.EqualFold(newEdits, "true") {
		_, st := c.updateDocument(docID, body, false, false)
		return st
	}
	st := c.forceInsert(docID, body)
	if st.IsSuccessful() {
		c.resp.Body = map[string]interface{}{"ok": true, "id": docID, "rev": body["_rev"]}
	}
	return st
}

func handleDeleteDocument(c *call) Status {
	_, st := c.updateDocument(c.route.DocID, nil, true, false)
	return st
}

func handleGetDocument(c *call) Status {
	docID := c.route.DocID
	if model.IsLocalDocID(docID) {
		rev, err := c.db.GetLocalDocument(c.ctx, docID, c.query("rev"))
		if err != nil {
			return statusFromError(err)
		}
		if c.cacheWithETag(rev.RevID) {
			return StatusNotModified
		}
		c.resp.Body = rev.Body
		return StatusOK
	}

	opts := c.contentOptions()
	openRevs := c.query("open_revs")
	if openRevs == "" {
		rev, err := c.db.GetDocument(c.ctx, docID, c.query("rev"), opts)
		if err != nil {
			return statusFromError(err)
		}
		if c.cacheWithETag(rev.RevID) {
			return StatusNotModified
		}
		c.resp.Body = rev.Body
		return StatusOK
	}

	var results []interface{}
	if openRevs == "all" {
		revs, err := c.db.AllRevisions(c.ctx, docID, true)
		if err != nil {
			return statusFromError(err)
		}
		results = make([]interface{}, 0, len(revs))
		for _, rev := range revs {
			if err := c.db.LoadRevisionBody(c.ctx, rev, opts); err != nil {
				if errors.Is(err, model.ErrNotFound) {
					results = append(results, map[string]interface{}{"missing": rev.RevID})
					continue
				}
				return StatusInternalError
			}
			results = append(results, map[string]interface{}{"ok": rev.Body})
		}
	} else {
		v, _, ok := c.jsonQuery("open_revs")
		list, isList := v.([]interface{})
		if !ok || !isList {
			return StatusBadRequest
		}
		results = make([]interface{}, 0, len(list))
		for _, item := range list {
			revID, ok := item.(string)
			if !ok {
				return StatusBadRequest
			}
			rev, err := c.db.GetDocument(c.ctx, docID, revID, opts)
			switch {
			case errors.Is(err, model.ErrNotFound):
				results = append(results, map[string]interface{}{"missing": revID})
			case err != nil:
				return StatusInternalError
			default:
				results = append(results, map[string]interface{}{"ok": rev.Body})
			}
		}
	}
	c.resp.Body = results
	return StatusOK
}
