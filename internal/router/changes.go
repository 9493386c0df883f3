package router

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"
)

type changesFeed struct {
	opts        model.ChangesOptions
	filter      model.FilterFunc
	continuous  bool
	// eventSource frames each change as a server-sent event.
	eventSource bool
	lastSeq     int64
}

func handleGetChanges(c *call) Status {
	opts := model.DefaultChangesOptions()
	opts.Limit = c.intQuery("limit", opts.Limit)
	opts.IncludeDocs = c.boolQuery("include_docs")
	opts.IncludeConflicts = c.query("style") == "all_docs"
	opts.Content = c.contentOptions()
	since := int64(c.intQuery("since", 0))

	var filter model.FilterFunc
	if name := c.query("filter"); name != "" {
		if c.router.views == nil {
			return StatusNotFound
		}
		f, err := c.router.views.FilterNamed(c.ctx, c.db, name, c.queryParams())
		if err != nil {
			return statusFromError(err)
		}
		filter = f
	}

	feed := c.query("feed")
	longpoll := feed == "longpoll"
	eventSource := feed == "eventsource"
	continuous := feed == "continuous" || feed == "websocket" || eventSource

	// Subscribe before reading the backlog so nothing committed in between
	// is lost; duplicates are skipped by sequence.
	var sub *storage.Subscription
	if longpoll || continuous {
		sub = c.db.Subscribe()
	}
	changes, err := c.db.ChangesSince(c.ctx, since, opts, filter)
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		return statusFromError(err)
	}

	if continuous || (longpoll && len(changes) == 0) {
		contentType := "application/json"
		if eventSource {
			contentType = "text/event-stream"
		}
		if err := c.startStreaming(contentType); err != nil {
			sub.Close()
			c.w.Finish()
			return StatusStreaming
		}
		f := &changesFeed{opts: opts, filter: filter, continuous: continuous, eventSource: eventSource, lastSeq: since}
		go c.streamChanges(sub, changes, f)
		return StatusStreaming
	}
	if sub != nil {
		sub.Close()
	}

	if opts.IncludeConflicts {
		c.resp.Body = changesWithConflicts(changes, since, opts.IncludeDocs)
	} else {
		c.resp.Body = changesBody(changes, since, opts.IncludeDocs)
	}
	return StatusOK
}

// streamChanges owns the response until the feed ends or the request's
// context is done.
func (c *call) streamChanges(sub *storage.Subscription, backlog []*model.Revision, f *changesFeed) {
	defer c.w.Finish()
	defer sub.Close()

	for _, rev := range backlog {
		if !c.sendChangeLine(rev, f) {
			return
		}
		if rev.Sequence > f.lastSeq {
			f.lastSeq = rev.Sequence
		}
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		case change, ok := <-sub.C():
			if !ok {
				return
			}
			if change.Revision.Sequence <= f.lastSeq {
				continue
			}
			f.lastSeq = change.Revision.Sequence
			rev := c.liveRevision(change.Revision, f.opts)
			if f.filter != nil && !f.filter(rev) {
				continue
			}
			if f.continuous {
				if !c.sendChangeLine(rev, f) {
					return
				}
				continue
			}
			data, err := c.router.codec.Marshal(changesBody([]*model.Revision{rev}, 0, f.opts.IncludeDocs))
			if err != nil {
				c.router.logger.Error("Failed to encode change", "db", c.db.Name(), "error", err)
				return
			}
			if err := c.w.Write(data); err != nil {
				c.router.logger.Debug("Failed to send change", "db", c.db.Name(), "error", err)
			}
			return
		}
	}
}

// liveRevision reports a committed revision the way ChangesSince does: unless
// conflicts are requested, as the document's winner stamped with the new
// sequence.
func (c *call) liveRevision(rev *model.Revision, opts model.ChangesOptions) *model.Revision {
	if opts.IncludeConflicts {
		return rev
	}
	leaves, err := c.db.AllRevisions(c.ctx, rev.DocID, true)
	if err != nil || len(leaves) == 0 || leaves[0].RevID == rev.RevID {
		return rev
	}
	winner := leaves[0]
	if err := c.db.LoadRevisionBody(c.ctx, winner, opts.Content); err != nil {
		c.router.logger.Debug("Failed to load winning revision", "db", c.db.Name(), "doc", rev.DocID, "error", err)
		return rev
	}
	winner.Sequence = rev.Sequence
	return winner
}

func (c *call) sendChangeLine(rev *model.Revision, f *changesFeed) bool {
	data, err := c.router.codec.Marshal(changeEvent(rev, f.opts.IncludeDocs))
	if err != nil {
		c.router.logger.Error("Failed to encode change", "db", c.db.Name(), "error", err)
		return false
	}
	if f.eventSource {
		// An event's data must fit on one line.
		data = bytes.ReplaceAll(data, []byte("\n"), nil)
		data = append([]byte(fmt.Sprintf("id: %d\ndata: ", rev.Sequence)), data...)
		data = append(data, '\n')
	}
	return c.w.Write(append(data, '\n')) == nil
}

func changeEvent(rev *model.Revision, includeDocs bool) *model.ChangeEvent {
	ev := &model.ChangeEvent{
		Seq:     rev.Sequence,
		ID:      rev.DocID,
		Changes: []model.ChangeRev{{Rev: rev.RevID}},
		Deleted: rev.Deleted,
	}
	if includeDocs {
		ev.Doc = rev.Body
	}
	return ev
}

func changesBody(changes []*model.Revision, since int64, includeDocs bool) map[string]interface{} {
	results := make([]*model.ChangeEvent, 0, len(changes))
	lastSeq := since
	for _, rev := range changes {
		results = append(results, changeEvent(rev, includeDocs))
		lastSeq = rev.Sequence
	}
	return map[string]interface{}{"results": results, "last_seq": lastSeq}
}

// changesWithConflicts folds consecutive revisions of one document into a
// single entry listing every revision, then orders entries by sequence.
func changesWithConflicts(changes []*model.Revision, since int64, includeDocs bool) map[string]interface{} {
	results := make([]*model.ChangeEvent, 0, len(changes))
	var cur *model.ChangeEvent
	for _, rev := range changes {
		if cur != nil && cur.ID == rev.DocID {
			cur.Changes = append(cur.Changes, model.ChangeRev{Rev: rev.RevID})
			if rev.Sequence > cur.Seq {
				cur.Seq = rev.Sequence
			}
			continue
		}
		cur = changeEvent(rev, includeDocs)
		results = append(results, cur)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Seq < results[j].Seq })

	lastSeq := since
	for _, ev := range results {
		if ev.Seq > lastSeq {
			lastSeq = ev.Seq
		}
	}
	return map[string]interface{}{"results": results, "last_seq": lastSeq}
}
