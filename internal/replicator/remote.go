package replicator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultTLSTimeout     = 5 * time.Second
)

// newClient has no overall timeout: long-poll requests stay open until a
// change arrives or the job's context is cancelled.
func newClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	dialer := &net.Dialer{
		Timeout: connectTimeout,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultTLSTimeout,
	}
	return &http.Client{Transport: transport}
}

// HTTPError is a non-success reply from the remote database.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Status, e.Body)
}

// remoteDB talks to a CouchDB-compatible database over HTTP.
type remoteDB struct {
	base   *url.URL
	client *http.Client
	token  string
}

func newRemoteDB(base *url.URL, client *http.Client, token string) *remoteDB {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return &remoteDB{base: &u, client: client, token: token}
}

// docPath escapes a document ID, keeping the slash of design documents.
func docPath(docID string) string {
	if rest, ok := strings.CutPrefix(docID, "_design/"); ok {
		return "_design/" + url.PathEscape(rest)
	}
	return url.PathEscape(docID)
}

func (r *remoteDB) url(path string, query url.Values) string {
	s := r.base.String()
	if path != "" {
		s += "/" + path
	}
	if len(query) > 0 {
		s += "?" + query.Encode()
	}
	return s
}

// do sends a JSON request and decodes a JSON reply into out. Statuses in
// accept count as success besides 2xx.
func (r *remoteDB) do(ctx context.Context, method, path string, query url.Values, in, out interface{}, accept ...int) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.url(path, query), body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, s := range accept {
		ok = ok || resp.StatusCode == s
	}
	if !ok {
		return resp.StatusCode, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 && resp.StatusCode/100 == 2 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

type remoteChange struct {
	Seq     interface{} `json:"seq"`
	ID      string      `json:"id"`
	Changes []struct {
		Rev string `json:"rev"`
	} `json:"changes"`
	Deleted bool `json:"deleted"`
}

type changesResponse struct {
	Results []remoteChange `json:"results"`
	LastSeq interface{}    `json:"last_seq"`
}

// seqString renders a remote sequence, which may be a number or an opaque
// string, for use as a since parameter.
func seqString(seq interface{}) string {
	switch v := seq.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}
