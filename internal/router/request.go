package router

import (
	"net/http"
	"net/url"
)

// Request is a transport-independent HTTP request.
type Request struct {
	Method string
	// URL is absolute when the transport knows its scheme and host.
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// NewRequest parses target, which may be a path with a query string.
func NewRequest(method, target string, body []byte) (*Request, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	return &Request{Method: method, URL: u, Header: make(http.Header), Body: body}, nil
}

// Response is filled in by an operation. Body is encoded with the router's
// codec; Raw is sent as is.
type Response struct {
	Status  Status
	Header  http.Header
	Body    interface{}
	Raw     []byte
	Chunked bool
}

func newResponse() *Response {
	return &Response{Header: make(http.Header)}
}

// ResponseWriter is implemented by the transport. Ready sends the status
// line and headers and is called exactly once, before any Write. Finish
// ends the response.
type ResponseWriter interface {
	Ready(resp *Response) error
	Write(p []byte) error
	Finish()
}
