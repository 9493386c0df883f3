package memory

import (
	"sort"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"
)

// revNode is one revision in a document's tree. Nodes created only as
// ancestors by ForceInsert are stubs: they carry no body.
type revNode struct {
	revID       string
	parent      string
	deleted     bool
	seq         int64
	body        model.Body
	attachments map[string]*storage.Attachment
	leaf        bool
	stub        bool
}

type document struct {
	id   string
	revs map[string]*revNode
}

func newDocument(id string) *document {
	return &document{id: id, revs: make(map[string]*revNode)}
}

// leaves returns the leaf revisions ordered by precedence: live before
// deleted, then by descending revision ID.
func (d *document) leaves() []*revNode {
	var out []*revNode
	for _, n := range d.revs {
		if n.leaf {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return beats(out[i], out[j]) })
	return out
}

func beats(a, b *revNode) bool {
	if a.deleted != b.deleted {
		return !a.deleted
	}
	return model.CompareRevIDs(a.revID, b.revID) > 0
}

func (d *document) winner() *revNode {
	var best *revNode
	for _, n := range d.revs {
		if n.leaf && (best == nil || beats(n, best)) {
			best = n
		}
	}
	return best
}

// history walks from revID back to the root.
func (d *document) history(revID string) []string {
	var out []string
	for n := d.revs[revID]; n != nil; n = d.revs[n.parent] {
		out = append(out, n.revID)
		if n.parent == "" {
			break
		}
	}
	return out
}

// conflicts lists live leaves other than the winner.
func (d *document) conflicts() []string {
	var out []string
	for i, n := range d.leaves() {
		if i == 0 || n.deleted {
			continue
		}
		out = append(out, n.revID)
	}
	return out
}

func (d *document) revision(n *revNode) *model.Revision {
	return &model.Revision{
		DocID:    d.id,
		RevID:    n.revID,
		Deleted:  n.deleted,
		Sequence: n.seq,
	}
}

// properties renders the stored body of n with the special properties the
// content options ask for.
func (d *document) properties(n *revNode, opts model.ContentOptions) model.Body {
	body := make(model.Body, len(n.body)+4)
	for k, v := range n.body {
		body[k] = v
	}
	body["_id"] = d.id
	body["_rev"] = n.revID
	if n.deleted {
		body["_deleted"] = true
	}
	if len(n.attachments) > 0 {
		body["_attachments"] = attachmentsProperty(n.attachments, opts.Has(model.IncludeAttachments))
	}
	if opts.Has(model.IncludeLocalSeq) {
		body["_local_seq"] = n.seq
	}
	if opts.Has(model.IncludeRevs) {
		body["_revisions"] = model.FormatRevisionHistory(d.history(n.revID))
	}
	if opts.Has(model.IncludeRevsInfo) {
		var info []interface{}
		for _, revID := range d.history(n.revID) {
			status := "available"
			node := d.revs[revID]
			switch {
			case node.deleted:
				status = "deleted"
			case node.body == nil:
				status = "missing"
			}
			info = append(info, map[string]interface{}{"rev": revID, "status": status})
		}
		body["_revs_info"] = info
	}
	if opts.Has(model.IncludeConflicts) {
		if conflicts := d.conflicts(); len(conflicts) > 0 {
			body["_conflicts"] = conflicts
		}
	}
	return body
}
