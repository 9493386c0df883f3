package api

import (
	"net/http"
	"sync"

	"github.com/fmedlin/touchdb/internal/router"
)

// httpWriter implements router.ResponseWriter over an http.ResponseWriter.
// Chunked responses are flushed after every write.
type httpWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	chunked bool
	status  router.Status
	done    chan struct{}
	once    sync.Once
}

func newHTTPWriter(w http.ResponseWriter) *httpWriter {
	f, _ := w.(http.Flusher)
	return &httpWriter{w: w, flusher: f, done: make(chan struct{})}
}

func (h *httpWriter) Ready(resp *router.Response) error {
	header := h.w.Header()
	for k, vs := range resp.Header {
		header[k] = vs
	}
	h.status = resp.Status
	h.chunked = resp.Chunked
	h.w.WriteHeader(int(resp.Status))
	h.flush()
	return nil
}

func (h *httpWriter) Write(p []byte) error {
	if _, err := h.w.Write(p); err != nil {
		return err
	}
	if h.chunked {
		h.flush()
	}
	return nil
}

func (h *httpWriter) Finish() {
	h.once.Do(func() { close(h.done) })
}

func (h *httpWriter) flush() {
	if h.chunked && h.flusher != nil {
		h.flusher.Flush()
	}
}
