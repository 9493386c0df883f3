package router

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/fmedlin/touchdb/pkg/model"
)

func (c *call) openDB() Status {
	if c.db == nil {
		return StatusInternalError
	}
	if !c.db.Exists() {
		return StatusNotFound
	}
	if err := c.db.Open(); err != nil {
		return StatusInternalError
	}
	return StatusOK
}

// databaseURL is the request URL with its path replaced by the database's.
func (c *call) databaseURL() *url.URL {
	u := *c.req.URL
	u.Path = "/" + c.db.Name()
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return &u
}

func handleGetDatabase(c *call) Status {
	if st := c.openDB(); st != StatusOK {
		return st
	}
	c.resp.Body = map[string]interface{}{
		"db_name":             c.db.Name(),
		"db_uuid":             c.db.PublicUUID(),
		"doc_count":           c.db.DocumentCount(),
		"update_seq":          c.db.LastSequence(),
		"disk_size":           c.db.TotalDataSize(),
		"instance_start_time": strconv.FormatInt(c.db.StartTime(), 10),
	}
	return StatusOK
}

func handlePutDatabase(c *call) Status {
	if err := c.db.Create(); err != nil {
		if errors.Is(err, model.ErrPreconditionFailed) {
			return StatusPreconditionFail
		}
		c.router.logger.Error("Failed to create database", "db", c.db.Name(), "error", err)
		return StatusInternalError
	}
	c.resp.Header.Set("Location", c.databaseURL().String())
	return StatusCreated
}

func handleDeleteDatabase(c *call) Status {
	if c.hasQuery("rev") {
		// A document delete that forgot the document ID.
		return StatusBadRequest
	}
	if err := c.router.server.DeleteDatabaseNamed(c.db.Name()); err != nil {
		return statusFromError(err)
	}
	if c.router.views != nil {
		c.router.views.DropViews(c.db.Name())
	}
	return StatusOK
}

func handlePostDatabase(c *call) Status {
	if st := c.openDB(); st != StatusOK {
		return st
	}
	body, ok := c.jsonBody()
	if !ok {
		return StatusBadRequest
	}
	_, st := c.updateDocument("", body, false, false)
	return st
}

func handleGetAllDocs(c *call) Status {
	if st := c.openDB(); st != StatusOK {
		return st
	}
	opts, ok := c.queryOptions()
	if !ok {
		return StatusBadRequest
	}
	return c.allDocs(opts)
}

func handlePostAllDocs(c *call) Status {
	if st := c.openDB(); st != StatusOK {
		return st
	}
	opts, ok := c.queryOptions()
	if !ok {
		return StatusBadRequest
	}
	body, ok := c.jsonBody()
	if !ok {
		return StatusBadRequest
	}
	keys, ok := body["keys"].([]interface{})
	if !ok {
		return StatusBadRequest
	}
	opts.Keys = keys
	return c.allDocs(opts)
}

func (c *call) allDocs(opts model.QueryOptions) Status {
	result, err := c.db.AllDocs(c.ctx, opts)
	if err != nil {
		return statusFromError(err)
	}
	rows := result.Rows
	if rows == nil {
		rows = []*model.QueryRow{}
	}
	body := map[string]interface{}{
		"rows":       rows,
		"total_rows": result.TotalRows,
		"offset":     result.Offset,
	}
	if opts.UpdateSeq {
		body["update_seq"] = result.UpdateSeq
	}
	c.resp.Body = body
	return StatusOK
}

func handlePostBulkDocs(c *call) Status {
	if st := c.openDB(); st != StatusOK {
		return st
	}
	body, ok := c.jsonBody()
	if !ok {
		return StatusBadRequest
	}
	docs, ok := body["docs"].([]interface{})
	if !ok {
		return StatusBadRequest
	}
	newEdits := true
	if v, ok := body["new_edits"].(bool); ok {
		newEdits = v
	}

	results := make([]interface{}, 0, len(docs))
	for _, item := range docs {
		doc, ok := item.(map[string]interface{})
		if !ok {
			return StatusBadRequest
		}
		docID, _ := doc["_id"].(string)
		if !newEdits {
			if st := c.forceInsert(docID, doc); !st.IsSuccessful() {
				results = append(results, bulkError(docID, st))
			}
			continue
		}
		prevRevID, _ := doc["_rev"].(string)
		rev, st := c.putDocument(docID, doc, false, false, prevRevID)
		if !st.IsSuccessful() {
			results = append(results, bulkError(docID, st))
			continue
		}
		results = append(results, map[string]interface{}{"id": rev.DocID, "rev": rev.RevID})
	}
	c.resp.Body = results
	return StatusCreated
}

func bulkError(docID string, st Status) map[string]interface{} {
	item := ErrorBody(st)
	if docID != "" {
		item["id"] = docID
	}
	return item
}

func handlePostRevsDiff(c *call) Status {
	if st := c.openDB(); st != StatusOK {
		return st
	}
	body, ok := c.jsonBody()
	if !ok {
		return StatusBadRequest
	}
	revs := make(map[string][]string, len(body))
	for docID, v := range body {
		list, ok := v.([]interface{})
		if !ok {
			return StatusBadRequest
		}
		for _, r := range list {
			revID, ok := r.(string)
			if !ok {
				return StatusBadRequest
			}
			revs[docID] = append(revs[docID], revID)
		}
	}
	missing, err := c.db.RevsDiff(c.ctx, revs)
	if err != nil {
		return statusFromError(err)
	}
	out := make(map[string]interface{}, len(missing))
	for docID, revIDs := range missing {
		out[docID] = map[string]interface{}{"missing": revIDs}
	}
	c.resp.Body = out
	return StatusOK
}

func handlePostCompact(c *call) Status {
	if st := c.openDB(); st != StatusOK {
		return st
	}
	if err := c.db.Compact(c.ctx); err != nil {
		return statusFromError(err)
	}
	return StatusAccepted
}

func handlePostEnsureFullCommit(c *call) Status {
	if st := c.openDB(); st != StatusOK {
		return st
	}
	c.resp.Body = map[string]interface{}{
		"ok":                  true,
		"instance_start_time": strconv.FormatInt(c.db.StartTime(), 10),
	}
	return StatusCreated
}
