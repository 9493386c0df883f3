package replicator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"github.com/fmedlin/touchdb/pkg/model"
)

func (r *Replicator) runPull(ctx context.Context) error {
	cp, err := r.loadCheckpoint(ctx)
	if err != nil {
		return err
	}
	since := cp.seq
	batch := r.manager.cfg.BatchSize
	filterName, filterParams := r.filter()
	caughtUp := false

	for {
		q := url.Values{}
		if filterName != "" {
			for k, v := range filterParams {
				q.Set(k, v)
			}
			q.Set("filter", filterName)
		}
		q.Set("style", "all_docs")
		q.Set("limit", strconv.Itoa(batch))
		if since != "" {
			q.Set("since", since)
		}
		if caughtUp && r.continuous {
			q.Set("feed", "longpoll")
		}

		var feed changesResponse
		if _, err := r.remote.do(ctx, "GET", "_changes", q, nil, &feed); err != nil {
			return fmt.Errorf("read remote changes: %w", err)
		}
		if len(feed.Results) == 0 {
			if s := seqString(feed.LastSeq); s != "" {
				since = s
			}
			if !r.continuous {
				return r.saveCheckpoint(ctx, cp, since)
			}
			caughtUp = true
			continue
		}

		r.addTotal(len(feed.Results))
		if err := r.pullBatch(ctx, feed.Results); err != nil {
			return err
		}
		r.addProcessed(len(feed.Results))

		since = seqString(feed.LastSeq)
		if since == "" {
			since = seqString(feed.Results[len(feed.Results)-1].Seq)
		}
		if err := r.saveCheckpoint(ctx, cp, since); err != nil {
			return err
		}
		caughtUp = len(feed.Results) < batch
	}
}

// pullBatch fetches the revisions of a batch of changes the local database
// lacks and inserts them with their history.
func (r *Replicator) pullBatch(ctx context.Context, changes []remoteChange) error {
	revs := make(map[string][]string, len(changes))
	for _, ch := range changes {
		if model.IsLocalDocID(ch.ID) {
			continue
		}
		for _, c := range ch.Changes {
			revs[ch.ID] = append(revs[ch.ID], c.Rev)
		}
	}
	missing, err := r.db.RevsDiff(ctx, revs)
	if err != nil {
		return fmt.Errorf("diff revisions: %w", err)
	}

	docIDs := make([]string, 0, len(missing))
	for docID := range missing {
		docIDs = append(docIDs, docID)
	}
	sort.Strings(docIDs)

	for _, docID := range docIDs {
		openRevs, err := json.Marshal(missing[docID])
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("revs", "true")
		q.Set("attachments", "true")
		q.Set("open_revs", string(openRevs))

		var items []map[string]interface{}
		if _, err := r.remote.do(ctx, "GET", docPath(docID), q, nil, &items); err != nil {
			return fmt.Errorf("fetch %s: %w", docID, err)
		}
		for _, item := range items {
			body, _ := item["ok"].(map[string]interface{})
			if body == nil {
				r.logger.Debug("Remote revision missing", "doc", docID, "rev", item["missing"])
				continue
			}
			rev := model.NewRevisionFromBody(body)
			history := model.ParseRevisionHistory(body)
			if history == nil {
				history = []string{rev.RevID}
			}
			if err := r.db.ForceInsert(ctx, rev, history); err != nil {
				return fmt.Errorf("insert %s %s: %w", docID, rev.RevID, err)
			}
		}
	}
	return nil
}
