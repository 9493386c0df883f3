package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fmedlin/touchdb/internal/logging"
	"github.com/fmedlin/touchdb/internal/storage/memory"
	"github.com/fmedlin/touchdb/internal/view"
)

const testBase = "http://localhost:5984"

// recorder is an in-memory ResponseWriter.
type recorder struct {
	mu      sync.Mutex
	status  Status
	header  http.Header
	chunked bool
	readies int
	body    bytes.Buffer
	done    chan struct{}
	once    sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) Ready(resp *Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readies++
	r.status = resp.Status
	r.header = resp.Header.Clone()
	r.chunked = resp.Chunked
	return nil
}

func (r *recorder) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body.Write(p)
	return nil
}

func (r *recorder) Finish() {
	r.once.Do(func() { close(r.done) })
}

func (r *recorder) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("response was not finished")
	}
}

func (r *recorder) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func (r *recorder) lines() []string {
	var out []string
	for _, l := range strings.Split(r.text(), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

func (r *recorder) object(t *testing.T) map[string]interface{} {
	t.Helper()
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(r.text()), &v), r.text())
	return v
}

func (r *recorder) array(t *testing.T) []interface{} {
	t.Helper()
	var v []interface{}
	require.NoError(t, json.Unmarshal([]byte(r.text()), &v), r.text())
	return v
}

type fixture struct {
	t      *testing.T
	server *memory.Server
	views  *view.Manager
	router *Router
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	server := memory.NewServer(logging.Discard())
	t.Cleanup(func() { _ = server.Close() })
	views, err := view.NewManager(view.LanguageCEL, logging.Discard())
	require.NoError(t, err)

	o := Options{Server: server, Views: views, Logger: logging.Discard()}
	for _, fn := range opts {
		fn(&o)
	}
	return &fixture{t: t, server: server, views: views, router: New(o)}
}

type header struct{ key, value string }

// serve runs a request to completion unless it streams.
func (f *fixture) serve(ctx context.Context, method, target, body string, headers ...header) (*recorder, Status) {
	f.t.Helper()
	var data []byte
	if body != "" {
		data = []byte(body)
	}
	req, err := NewRequest(method, testBase+target, data)
	require.NoError(f.t, err)
	for _, h := range headers {
		req.Header.Set(h.key, h.value)
	}
	rec := newRecorder()
	return rec, f.router.Handle(ctx, req, rec)
}

func (f *fixture) do(method, target, body string, headers ...header) *recorder {
	f.t.Helper()
	rec, status := f.serve(context.Background(), method, target, body, headers...)
	require.NotEqual(f.t, StatusStreaming, status, "%s %s streamed", method, target)
	require.True(f.t, rec.finished())
	return rec
}

func (f *fixture) createDB(name string) {
	f.t.Helper()
	rec := f.do("PUT", "/"+name, "")
	require.Equal(f.t, StatusCreated, rec.status, rec.text())
}

// putDoc stores a document and returns its new revision ID.
func (f *fixture) putDoc(db, docID, body string) string {
	f.t.Helper()
	rec := f.do("PUT", "/"+db+"/"+docID, body)
	require.Equal(f.t, StatusCreated, rec.status, rec.text())
	return rec.object(f.t)["rev"].(string)
}
