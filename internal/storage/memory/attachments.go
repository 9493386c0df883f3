package memory

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/pkg/model"
)

func newAttachment(name, contentType string, data []byte, revPos int) *storage.Attachment {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &storage.Attachment{
		Name:        name,
		ContentType: contentType,
		Digest:      storage.AttachmentDigest(data),
		Length:      len(data),
		RevPos:      revPos,
		Data:        data,
	}
}

// prepareBody strips the special properties from raw and resolves its
// _attachments: inline data is decoded, stubs are carried over from parent.
// With lenient set, stubs the parent cannot satisfy are dropped.
func prepareBody(raw model.Body, parent *revNode, gen int, lenient bool) (model.Body, map[string]*storage.Attachment, error) {
	body := model.Body{}
	if raw != nil {
		body = raw.UserProperties()
	}
	rawAtts, _ := raw["_attachments"].(map[string]interface{})
	if len(rawAtts) == 0 {
		return body, nil, nil
	}

	atts := make(map[string]*storage.Attachment, len(rawAtts))
	for name, v := range rawAtts {
		meta, ok := v.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("%w: attachment %q is not an object", model.ErrBadRequest, name)
		}
		contentType, _ := meta["content_type"].(string)
		if data, ok := meta["data"].(string); ok {
			decoded, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: attachment %q: %v", model.ErrBadRequest, name, err)
			}
			atts[name] = newAttachment(name, contentType, decoded, gen)
			continue
		}
		if stub, _ := meta["stub"].(bool); stub {
			if parent != nil && parent.attachments[name] != nil {
				atts[name] = parent.attachments[name]
				continue
			}
			if lenient {
				continue
			}
			return nil, nil, fmt.Errorf("%w: unknown attachment stub %q", model.ErrBadRequest, name)
		}
		return nil, nil, fmt.Errorf("%w: attachment %q has neither data nor stub", model.ErrBadRequest, name)
	}
	return body, atts, nil
}

func attachmentsProperty(atts map[string]*storage.Attachment, withData bool) map[string]interface{} {
	out := make(map[string]interface{}, len(atts))
	for name, a := range atts {
		meta := map[string]interface{}{
			"content_type": a.ContentType,
			"digest":       a.Digest,
			"length":       a.Length,
			"revpos":       a.RevPos,
		}
		if withData {
			meta["data"] = base64.StdEncoding.EncodeToString(a.Data)
		} else {
			meta["stub"] = true
		}
		out[name] = meta
	}
	return out
}

// digestInput folds attachment digests into the body hashed for the revision ID.
func digestInput(body model.Body, atts map[string]*storage.Attachment) map[string]interface{} {
	if len(atts) == 0 {
		return body
	}
	in := make(map[string]interface{}, len(body)+1)
	for k, v := range body {
		in[k] = v
	}
	digests := make(map[string]interface{}, len(atts))
	for name, a := range atts {
		digests[name] = a.Digest
	}
	in["_attachments"] = digests
	return in
}

func (db *Database) UpdateAttachment(ctx context.Context, name string, data []byte, contentType, docID, prevRevID string) (*model.Revision, error) {
	if name == "" || docID == "" || model.IsLocalDocID(docID) {
		return nil, model.ErrBadRequest
	}

	db.mu.Lock()
	if !db.exists {
		db.mu.Unlock()
		return nil, model.ErrNotFound
	}

	doc := db.docs[docID]
	var parent *revNode
	switch {
	case prevRevID != "":
		if doc == nil {
			db.mu.Unlock()
			return nil, model.ErrNotFound
		}
		parent = doc.revs[prevRevID]
		if parent == nil || doc.winner().revID != prevRevID {
			db.mu.Unlock()
			return nil, model.ErrConflict
		}
	case doc != nil:
		w := doc.winner()
		if !w.deleted {
			db.mu.Unlock()
			return nil, model.ErrConflict
		}
		parent = w
	default:
		if data == nil {
			db.mu.Unlock()
			return nil, model.ErrNotFound
		}
		doc = newDocument(docID)
	}

	gen := 1
	body := model.Body{}
	atts := make(map[string]*storage.Attachment)
	if parent != nil {
		gen, _, _ = model.ParseRevID(parent.revID)
		gen++
		if !parent.deleted {
			for k, v := range parent.body {
				body[k] = v
			}
			for k, a := range parent.attachments {
				atts[k] = a
			}
		}
	}

	if data == nil {
		if atts[name] == nil {
			db.mu.Unlock()
			return nil, model.ErrNotFound
		}
		delete(atts, name)
	} else {
		atts[name] = newAttachment(name, contentType, data, gen)
	}

	n, err := db.commit(doc, parent, gen, body, atts, false)
	if err != nil {
		db.mu.Unlock()
		return nil, err
	}
	out := doc.revision(n)
	out.Body = doc.properties(n, 0)
	db.publishLocked(out)
	db.mu.Unlock()
	return out, nil
}

func (db *Database) GetAttachment(ctx context.Context, docID, revID, name string) (*storage.Attachment, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if !db.exists {
		return nil, model.ErrNotFound
	}
	doc := db.docs[docID]
	if doc == nil {
		return nil, model.ErrNotFound
	}
	var n *revNode
	if revID == "" {
		n = doc.winner()
		if n.deleted {
			return nil, model.ErrNotFound
		}
	} else if n = doc.revs[revID]; n == nil {
		return nil, model.ErrNotFound
	}
	a := n.attachments[name]
	if a == nil {
		return nil, model.ErrNotFound
	}
	c := *a
	return &c, nil
}
