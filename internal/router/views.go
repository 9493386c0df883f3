package router

import (
	"sort"
	"strconv"

	"github.com/fmedlin/touchdb/internal/view"
	"github.com/fmedlin/touchdb/pkg/model"
)

func handleGetView(c *call) Status {
	return c.queryDesignDoc(nil)
}

func handlePostView(c *call) Status {
	body, ok := c.jsonBody()
	if !ok {
		return StatusBadRequest
	}
	keys, ok := body["keys"].([]interface{})
	if !ok {
		return StatusBadRequest
	}
	return c.queryDesignDoc(keys)
}

// compiledView returns the view "<design>/<name>", compiling it from the
// design document when it is missing or the design document changed.
func (c *call) compiledView(design, name string) (*view.View, Status) {
	viewName := design + "/" + name
	existing := c.router.views.ExistingView(c.db, viewName)
	// Views registered in code carry no design revision.
	if existing != nil && existing.IsCompiled() && existing.DesignRev() == "" {
		return existing, StatusOK
	}
	ddoc, err := c.db.GetDocument(c.ctx, "_design/"+design, "", 0)
	if err != nil {
		return nil, statusFromError(err)
	}
	if existing != nil && existing.IsCompiled() && existing.DesignRev() == ddoc.RevID {
		return existing, StatusOK
	}

	views, _ := ddoc.Body["views"].(map[string]interface{})
	props, _ := views[name].(map[string]interface{})
	if props == nil {
		return nil, StatusNotFound
	}
	mapSource, _ := props["map"].(string)
	if mapSource == "" {
		return nil, StatusNotFound
	}
	language, _ := props["language"].(string)
	if language == "" {
		language, _ = ddoc.Body["language"].(string)
	}

	mapFn, err := c.router.views.CompileMap(mapSource, language)
	if err != nil {
		c.router.logger.Warn("View has unknown map function", "view", viewName, "error", err)
		return nil, StatusInternalError
	}
	var reduceFn view.ReduceFunc
	reduceSource, _ := props["reduce"].(string)
	if reduceSource != "" {
		reduceFn, err = c.router.views.CompileReduce(reduceSource, language)
		if err != nil {
			c.router.logger.Warn("View has unknown reduce function", "view", viewName, "error", err)
			return nil, StatusInternalError
		}
	}

	collation := view.CollationJSON
	if s, ok := props["collation"].(string); ok {
		collation = view.ParseCollation(s)
	} else if options, ok := props["options"].(map[string]interface{}); ok {
		s, _ := options["collation"].(string)
		collation = view.ParseCollation(s)
	}

	v := c.router.views.View(c.db, viewName)
	v.SetFunctions(mapFn, reduceFn, mapSource, reduceSource, collation, ddoc.RevID)
	return v, StatusOK
}

func (c *call) queryDesignDoc(keys []interface{}) Status {
	if c.router.views == nil || c.route.View == "" {
		return StatusNotFound
	}
	v, st := c.compiledView(c.route.DocID, c.route.View)
	if st != StatusOK {
		return st
	}

	opts, ok := c.queryOptions()
	if !ok {
		return StatusBadRequest
	}
	if keys != nil {
		opts.Keys = keys
	}

	if err := v.UpdateIndex(c.ctx); err != nil {
		c.router.logger.Error("Failed to update view index", "view", v.Name(), "error", err)
		return statusFromError(err)
	}
	lastSeqIndexed := v.LastSequenceIndexed()

	if keys == nil {
		etag := lastSeqIndexed
		if opts.IncludeDocs {
			etag = c.db.LastSequence()
		}
		if c.cacheWithETag(strconv.FormatInt(etag, 10)) {
			return StatusNotModified
		}
	}

	rows, err := v.Query(c.ctx, opts)
	if err != nil {
		return statusFromError(err)
	}
	if rows == nil {
		rows = []*model.QueryRow{}
	}
	body := map[string]interface{}{
		"rows":       rows,
		"total_rows": len(rows),
		"offset":     opts.Skip,
	}
	if opts.UpdateSeq {
		body["update_seq"] = lastSeqIndexed
	}
	c.resp.Body = body
	return StatusOK
}

func handleGetDesignInfo(c *call) Status {
	ddoc, err := c.db.GetDocument(c.ctx, "_design/"+c.route.DocID, "", 0)
	if err != nil {
		return statusFromError(err)
	}
	views, _ := ddoc.Body["views"].(map[string]interface{})
	var updateSeq int64
	names := make([]string, 0, len(views))
	for name := range views {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c.router.views == nil {
			continue
		}
		if v := c.router.views.ExistingView(c.db, c.route.DocID+"/"+name); v != nil {
			if seq := v.LastSequenceIndexed(); seq > updateSeq {
				updateSeq = seq
			}
		}
	}
	language, _ := ddoc.Body["language"].(string)
	if language == "" && c.router.views != nil {
		language = c.router.views.DefaultLanguage()
	}
	c.resp.Body = map[string]interface{}{
		"name": c.route.DocID,
		"view_index": map[string]interface{}{
			"language":   language,
			"update_seq": updateSeq,
			"views":      names,
		},
	}
	return StatusOK
}
