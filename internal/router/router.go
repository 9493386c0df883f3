package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"runtime/debug"
	"strings"

	"github.com/fmedlin/touchdb/internal/replicator"
	"github.com/fmedlin/touchdb/internal/storage"
	"github.com/fmedlin/touchdb/internal/view"
	"github.com/fmedlin/touchdb/pkg/model"
)

const defaultVersion = "1.0"

// Codec encodes response bodies and decodes request bodies and JSON query
// parameters.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONCodec is the encoding/json codec.
type JSONCodec struct {
	Indent bool
}

func (j JSONCodec) Marshal(v interface{}) ([]byte, error) {
	if j.Indent {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

type Options struct {
	Server     storage.Server
	Views      view.Service
	Replicator replicator.Service
	Codec      Codec
	Logger     *slog.Logger
	Version    string
}

// Router maps CouchDB REST requests onto the storage, view and replication
// services. It holds no per-request state and is safe for concurrent use.
type Router struct {
	server     storage.Server
	views      view.Service
	replicator replicator.Service
	codec      Codec
	logger     *slog.Logger
	version    string
	handlers   map[Operation]handlerFunc
}

type handlerFunc func(c *call) Status

// call carries everything one request needs. Only resp is written to.
type call struct {
	ctx    context.Context
	router *Router
	req    *Request
	route  Route
	db     storage.Database
	resp   *Response
	w      ResponseWriter
}

func New(opts Options) *Router {
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = defaultVersion
	}
	r := &Router{
		server:     opts.Server,
		views:      opts.Views,
		replicator: opts.Replicator,
		codec:      opts.Codec,
		logger:     opts.Logger,
		version:    opts.Version,
	}
	r.handlers = map[Operation]handlerFunc{
		OpGetRoot:              handleGetRoot,
		OpGetAllDBs:            handleGetAllDBs,
		OpGetUUIDs:             handleGetUUIDs,
		OpGetActiveTasks:       handleGetActiveTasks,
		OpPostReplicate:        handlePostReplicate,
		OpGetDatabase:          handleGetDatabase,
		OpPutDatabase:          handlePutDatabase,
		OpDeleteDatabase:       handleDeleteDatabase,
		OpPostDatabase:         handlePostDatabase,
		OpGetAllDocs:           handleGetAllDocs,
		OpPostAllDocs:          handlePostAllDocs,
		OpPostBulkDocs:         handlePostBulkDocs,
		OpPostRevsDiff:         handlePostRevsDiff,
		OpPostCompact:          handlePostCompact,
		OpPostEnsureFullCommit: handlePostEnsureFullCommit,
		OpGetChanges:           handleGetChanges,
		OpGetDocument:          handleGetDocument,
		OpPutDocument:          handlePutDocument,
		OpDeleteDocument:       handleDeleteDocument,
		OpGetAttachment:        handleGetAttachment,
		OpPutAttachment:        handlePutAttachment,
		OpDeleteAttachment:     handleDeleteAttachment,
		OpGetView:              handleGetView,
		OpPostView:             handlePostView,
		OpGetDesignInfo:        handleGetDesignInfo,
	}
	return r
}

// ServerHeader is the value of the Server response header.
func (r *Router) ServerHeader() string {
	return fmt.Sprintf("TouchDB/%s (Go)", r.version)
}

// Handle serves one request. Unless it returns StatusStreaming the response
// has been written and finished when it returns; otherwise a background
// goroutine finishes w once the feed ends or ctx is cancelled.
func (r *Router) Handle(ctx context.Context, req *Request, w ResponseWriter) Status {
	c := &call{ctx: ctx, router: r, req: req, resp: newResponse(), w: w}
	status := r.dispatch(c)
	if status == StatusStreaming {
		return status
	}
	return r.finish(c, status)
}

func (r *Router) dispatch(c *call) Status {
	segs, err := splitPath(c.req.URL.EscapedPath())
	if err != nil {
		return StatusBadRequest
	}

	if len(segs) > 0 && !strings.HasPrefix(segs[0], "_") {
		// Only PUT /db may name a database that does not exist yet.
		var (
			db  storage.Database
			err error
		)
		if len(segs) == 1 && c.req.Method == "PUT" {
			db, err = r.server.DatabaseNamed(segs[0])
		} else {
			db, err = r.server.ExistingDatabaseNamed(segs[0])
		}
		switch {
		case errors.Is(err, model.ErrNotFound):
			return StatusNotFound
		case err != nil:
			return StatusBadRequest
		}
		c.db = db
	}

	route, status := interpretPath(c.req.Method, segs)
	if status != 0 {
		return status
	}
	c.route = route
	return r.invoke(c)
}

func (r *Router) invoke(c *call) (status Status) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Panic while handling request",
				"op", c.route.Op.String(), "path", c.req.URL.Path, "panic", p, "stack", string(debug.Stack()))
			c.resp = newResponse()
			status = StatusInternalError
		}
	}()

	h := r.handlers[c.route.Op]
	if h == nil {
		r.logger.Debug("No operation for request", "method", c.req.Method, "path", c.req.URL.Path)
		return StatusBadRequest
	}
	return h(c)
}

// finish applies the response conventions and writes the response once.
func (r *Router) finish(c *call, status Status) Status {
	resp := c.resp
	if status.IsSuccessful() && resp.Body == nil && resp.Raw == nil && resp.Header.Get("Content-Type") == "" {
		resp.Body = map[string]interface{}{"ok": true}
	}
	if !status.IsSuccessful() && status != StatusNotModified && resp.Body == nil && resp.Raw == nil {
		resp.Body = ErrorBody(status)
	}

	if !acceptable(c.req.Header.Get("Accept"), contentTypeOf(resp)) {
		status = StatusNotAcceptable
		resp.Raw = nil
		resp.Body = ErrorBody(status)
		resp.Header.Del("Content-Type")
	}

	var data []byte
	if resp.Body != nil {
		encoded, err := r.codec.Marshal(resp.Body)
		if err != nil {
			r.logger.Error("Failed to encode response", "op", c.route.Op.String(), "error", err)
			status = StatusInternalError
			encoded, _ = r.codec.Marshal(ErrorBody(status))
		}
		data = encoded
		if resp.Header.Get("Content-Type") == "" {
			resp.Header.Set("Content-Type", "application/json")
		}
	} else {
		data = resp.Raw
	}
	if status == StatusNotModified {
		data = nil
		resp.Header.Del("Content-Type")
	}

	resp.Status = status
	resp.Header.Set("Server", r.ServerHeader())
	if err := c.w.Ready(resp); err != nil {
		r.logger.Debug("Failed to send response headers", "error", err)
	} else if len(data) > 0 {
		if err := c.w.Write(data); err != nil {
			r.logger.Debug("Failed to send response body", "error", err)
		}
	}
	c.w.Finish()
	return status
}

func contentTypeOf(resp *Response) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	if resp.Body != nil {
		return "application/json"
	}
	return ""
}

// acceptable reports whether contentType matches one of the media ranges
// of an Accept header. An empty header or content type accepts anything.
func acceptable(accept, contentType string) bool {
	if accept == "" || contentType == "" {
		return true
	}
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		base = strings.ToLower(strings.TrimSpace(contentType))
	}
	for _, part := range strings.Split(accept, ",") {
		mediaRange := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		switch {
		case mediaRange == "*/*" || mediaRange == "*" || mediaRange == base:
			return true
		case strings.HasSuffix(mediaRange, "/*") && strings.HasPrefix(base, strings.TrimSuffix(mediaRange, "*")):
			return true
		}
	}
	return false
}

// startStreaming sends the headers of a response the operation will write
// itself.
func (c *call) startStreaming(contentType string) error {
	c.resp.Status = StatusOK
	c.resp.Chunked = true
	c.resp.Header.Set("Content-Type", contentType)
	c.resp.Header.Set("Server", c.router.ServerHeader())
	return c.w.Ready(c.resp)
}

// cacheWithETag sets the ETag header and reports whether the client's
// If-None-Match already names it.
func (c *call) cacheWithETag(etag string) bool {
	quoted := `"` + etag + `"`
	c.resp.Header.Set("ETag", quoted)
	return c.req.Header.Get("If-None-Match") == quoted
}
