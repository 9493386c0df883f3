package router

import (
	"strconv"
	"strings"

	"github.com/fmedlin/touchdb/pkg/model"
)

func (c *call) query(name string) string {
	return c.req.URL.Query().Get(name)
}

func (c *call) hasQuery(name string) bool {
	return c.req.URL.Query().Has(name)
}

// boolQuery treats an absent parameter, "false" and "0" as false.
func (c *call) boolQuery(name string) bool {
	return parseBool(c.query(name), false)
}

func parseBool(v string, def bool) bool {
	switch strings.ToLower(v) {
	case "":
		return def
	case "false", "0":
		return false
	default:
		return true
	}
}

func (c *call) intQuery(name string, def int) int {
	v := c.query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// jsonQuery decodes a JSON-valued parameter such as startkey. ok is false
// when the value is present but malformed.
func (c *call) jsonQuery(name string) (v interface{}, present, ok bool) {
	raw := c.query(name)
	if raw == "" {
		return nil, false, true
	}
	if err := c.router.codec.Unmarshal([]byte(raw), &v); err != nil {
		return nil, true, false
	}
	return v, true, true
}

// queryParams flattens the query string, first value wins.
func (c *call) queryParams() map[string]string {
	values := c.req.URL.Query()
	out := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func (c *call) contentOptions() model.ContentOptions {
	var opts model.ContentOptions
	if c.boolQuery("attachments") {
		opts |= model.IncludeAttachments
	}
	if c.boolQuery("local_seq") {
		opts |= model.IncludeLocalSeq
	}
	if c.boolQuery("conflicts") {
		opts |= model.IncludeConflicts
	}
	if c.boolQuery("revs") {
		opts |= model.IncludeRevs
	}
	if c.boolQuery("revs_info") {
		opts |= model.IncludeRevsInfo
	}
	return opts
}

// queryOptions reads the options shared by _all_docs and views. It fails
// only on malformed JSON keys.
func (c *call) queryOptions() (model.QueryOptions, bool) {
	opts := model.DefaultQueryOptions()
	opts.Skip = c.intQuery("skip", opts.Skip)
	opts.Limit = c.intQuery("limit", opts.Limit)
	opts.GroupLevel = c.intQuery("group_level", opts.GroupLevel)
	opts.Descending = c.boolQuery("descending")
	opts.IncludeDocs = c.boolQuery("include_docs")
	opts.UpdateSeq = c.boolQuery("update_seq")
	opts.Group = c.boolQuery("group")
	opts.Reduce = parseBool(c.query("reduce"), true)
	opts.InclusiveEnd = parseBool(c.query("inclusive_end"), true)
	opts.Content = c.contentOptions()

	for _, p := range []struct {
		names []string
		dst   *interface{}
	}{
		{[]string{"startkey", "start_key"}, &opts.StartKey},
		{[]string{"endkey", "end_key"}, &opts.EndKey},
	} {
		for _, name := range p.names {
			v, present, ok := c.jsonQuery(name)
			if !ok {
				return opts, false
			}
			if present {
				*p.dst = v
				break
			}
		}
	}

	key, present, ok := c.jsonQuery("key")
	if !ok {
		return opts, false
	}
	if present {
		opts.Keys = []interface{}{key}
	}
	return opts, true
}

// jsonBody decodes the request body as a JSON object.
func (c *call) jsonBody() (model.Body, bool) {
	if len(c.req.Body) == 0 {
		return nil, false
	}
	var body model.Body
	if err := c.router.codec.Unmarshal(c.req.Body, &body); err != nil || body == nil {
		return nil, false
	}
	return body, true
}
