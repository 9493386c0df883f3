package router

func handleGetAttachment(c *call) Status {
	att, err := c.db.GetAttachment(c.ctx, c.route.DocID, c.query("rev"), c.route.Attachment)
	if err != nil {
		return statusFromError(err)
	}
	if c.cacheWithETag(att.Digest) {
		return StatusNotModified
	}
	c.resp.Header.Set("Content-Type", att.ContentType)
	c.resp.Raw = att.Data
	if c.resp.Raw == nil {
		c.resp.Raw = []byte{}
	}
	return StatusOK
}

func handlePutAttachment(c *call) Status {
	data := c.req.Body
	if data == nil {
		data = []byte{}
	}
	return c.updateAttachment(data, c.req.Header.Get("Content-Type"))
}

func handleDeleteAttachment(c *call) Status {
	return c.updateAttachment(nil, "")
}

// updateAttachment adds, replaces or with nil data removes an attachment,
// creating a new revision of its document.
func (c *call) updateAttachment(data []byte, contentType string) Status {
	prevRevID := c.query("rev")
	if prevRevID == "" {
		prevRevID = c.ifMatchRevID()
	}
	rev, err := c.db.UpdateAttachment(c.ctx, c.route.Attachment, data, contentType, c.route.DocID, prevRevID)
	if err != nil {
		return statusFromError(err)
	}
	c.resp.Header.Set("ETag", `"`+rev.RevID+`"`)
	c.resp.Body = map[string]interface{}{"ok": true, "id": rev.DocID, "rev": rev.RevID}
	if data == nil {
		return StatusOK
	}
	u := *c.req.URL
	u.RawQuery = ""
	u.Fragment = ""
	c.resp.Header.Set("Location", u.String())
	return StatusCreated
}
