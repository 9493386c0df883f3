package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmedlin/touchdb/internal/storage/memory"
)

func changeIDs(t *testing.T, body map[string]interface{}) []string {
	t.Helper()
	var ids []string
	for _, r := range body["results"].([]interface{}) {
		ids = append(ids, r.(map[string]interface{})["id"].(string))
	}
	return ids
}

func (f *fixture) subscribers(db string) int {
	f.t.Helper()
	d, err := f.server.ExistingDatabaseNamed(db)
	require.NoError(f.t, err)
	return d.(*memory.Database).SubscriberCount()
}

func TestChanges_Normal(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	revA := f.putDoc("albums", "a", `{"n":1}`)
	f.putDoc("albums", "b", `{"n":2}`)
	f.putDoc("albums", "a", `{"_rev":"`+revA+`","n":3}`)

	rec := f.do("GET", "/albums/_changes", "")
	require.Equal(t, StatusOK, rec.status)
	body := rec.object(t)
	assert.Equal(t, []string{"b", "a"}, changeIDs(t, body))
	assert.Equal(t, 3.0, body["last_seq"])

	results := body["results"].([]interface{})
	last := results[1].(map[string]interface{})
	assert.Equal(t, 3.0, last["seq"])
	assert.Regexp(t, `^2-`, last["changes"].([]interface{})[0].(map[string]interface{})["rev"])
	assert.NotContains(t, last, "doc")

	rec = f.do("GET", "/albums/_changes?since=2", "")
	body = rec.object(t)
	assert.Equal(t, []string{"a"}, changeIDs(t, body))

	rec = f.do("GET", "/albums/_changes?limit=1", "")
	body = rec.object(t)
	assert.Equal(t, []string{"b"}, changeIDs(t, body))
	assert.Equal(t, 2.0, body["last_seq"])

	rec = f.do("GET", "/albums/_changes?since=3", "")
	body = rec.object(t)
	assert.Empty(t, body["results"])
	assert.Equal(t, 3.0, body["last_seq"])

	rec = f.do("GET", "/albums/_changes?include_docs=true", "")
	results = rec.object(t)["results"].([]interface{})
	doc := results[1].(map[string]interface{})["doc"].(map[string]interface{})
	assert.Equal(t, 3.0, doc["n"])
}

func TestChanges_Deleted(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	rev := f.putDoc("albums", "a", `{}`)
	require.Equal(t, StatusOK, f.do("DELETE", "/albums/a?rev="+rev, "").status)

	rec := f.do("GET", "/albums/_changes", "")
	results := rec.object(t)["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].(map[string]interface{})["deleted"])
}

func TestChanges_AllDocsStyleListsConflicts(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "a", `{"v":1}`)
	f.putDoc("albums", "b", `{}`)
	rec := f.do("PUT", "/albums/a?new_edits=false", `{"_id":"a","_rev":"1-ffff","v":2}`)
	require.Equal(t, StatusCreated, rec.status)

	rec = f.do("GET", "/albums/_changes?style=all_docs", "")
	require.Equal(t, StatusOK, rec.status)
	body := rec.object(t)
	results := body["results"].([]interface{})
	require.Len(t, results, 2)

	b := results[0].(map[string]interface{})
	a := results[1].(map[string]interface{})
	assert.Equal(t, "b", b["id"])
	assert.Equal(t, "a", a["id"])
	assert.Equal(t, 3.0, a["seq"])
	assert.Len(t, a["changes"], 2)
	assert.Equal(t, 3.0, body["last_seq"])

	// Without all_docs only the winner is reported.
	rec = f.do("GET", "/albums/_changes", "")
	results = rec.object(t)["results"].([]interface{})
	require.Len(t, results, 2)
	assert.Len(t, results[1].(map[string]interface{})["changes"], 1)
}

func TestChanges_Filter(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "_design/app", `{"filters":{"mine":"doc.owner == req.query.owner"}}`)
	f.putDoc("albums", "x", `{"owner":"ann"}`)
	f.putDoc("albums", "y", `{"owner":"bob"}`)

	rec := f.do("GET", "/albums/_changes?filter=app/mine&owner=ann", "")
	require.Equal(t, StatusOK, rec.status)
	assert.Equal(t, []string{"x"}, changeIDs(t, rec.object(t)))

	rec = f.do("GET", "/albums/_changes?filter=app/missing", "")
	assert.Equal(t, StatusNotFound, rec.status)
}

func TestChanges_LongpollWithBacklogReturnsImmediately(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "a", `{}`)

	rec := f.do("GET", "/albums/_changes?feed=longpoll", "")
	assert.Equal(t, StatusOK, rec.status)
	assert.Equal(t, []string{"a"}, changeIDs(t, rec.object(t)))
	assert.Equal(t, 0, f.subscribers("albums"))
}

func TestChanges_LongpollWaitsForChange(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "a", `{}`)

	rec, status := f.serve(context.Background(), "GET", "/albums/_changes?feed=longpoll&since=1", "")
	require.Equal(t, StatusStreaming, status)
	assert.Equal(t, StatusOK, rec.status)
	assert.True(t, rec.chunked)
	assert.False(t, rec.finished())
	assert.Equal(t, 1, f.subscribers("albums"))

	f.putDoc("albums", "b", `{"n":2}`)
	rec.wait(t)

	body := rec.object(t)
	assert.Equal(t, []string{"b"}, changeIDs(t, body))
	assert.Equal(t, 2.0, body["last_seq"])
	require.Eventually(t, func() bool { return f.subscribers("albums") == 0 }, time.Second, 10*time.Millisecond)
}

func TestChanges_LongpollCancelled(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")

	ctx, cancel := context.WithCancel(context.Background())
	rec, status := f.serve(ctx, "GET", "/albums/_changes?feed=longpoll", "")
	require.Equal(t, StatusStreaming, status)

	cancel()
	rec.wait(t)
	assert.Empty(t, rec.text())
	require.Eventually(t, func() bool { return f.subscribers("albums") == 0 }, time.Second, 10*time.Millisecond)
}

func TestChanges_Continuous(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "a", `{}`)
	f.putDoc("albums", "_design/app", `{"filters":{"big":"doc.n > 10"}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec, status := f.serve(ctx, "GET", "/albums/_changes?feed=continuous&include_docs=true", "")
	require.Equal(t, StatusStreaming, status)

	filtered, cancelFiltered := context.WithCancel(context.Background())
	defer cancelFiltered()
	frec, status := f.serve(filtered, "GET", "/albums/_changes?feed=continuous&filter=app/big", "")
	require.Equal(t, StatusStreaming, status)

	require.Eventually(t, func() bool { return len(rec.lines()) == 2 }, time.Second, 10*time.Millisecond)

	f.putDoc("albums", "small", `{"n":1}`)
	f.putDoc("albums", "large", `{"n":100}`)

	require.Eventually(t, func() bool { return len(rec.lines()) == 4 }, time.Second, 10*time.Millisecond)
	lines := rec.lines()
	var seqs []float64
	for _, line := range lines {
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		seqs = append(seqs, ev["seq"].(float64))
	}
	assert.Equal(t, []float64{1, 2, 3, 4}, seqs)

	var last map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &last))
	assert.Equal(t, "large", last["id"])
	assert.Equal(t, 100.0, last["doc"].(map[string]interface{})["n"])

	require.Eventually(t, func() bool { return len(frec.lines()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, frec.lines()[0], `"id":"large"`)

	assert.False(t, rec.finished())
	assert.Equal(t, 2, f.subscribers("albums"))

	cancel()
	cancelFiltered()
	rec.wait(t)
	frec.wait(t)
	require.Eventually(t, func() bool { return f.subscribers("albums") == 0 }, time.Second, 10*time.Millisecond)
}

func TestChanges_ContinuousEndsWhenDatabaseDeleted(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")

	rec, status := f.serve(context.Background(), "GET", "/albums/_changes?feed=continuous", "")
	require.Equal(t, StatusStreaming, status)

	require.Equal(t, StatusOK, f.do("DELETE", "/albums", "").status)
	rec.wait(t)
}

func TestChanges_EventSource(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Codec = JSONCodec{Indent: true} })
	f.createDB("albums")
	f.putDoc("albums", "a", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec, status := f.serve(ctx, "GET", "/albums/_changes?feed=eventsource", "")
	require.Equal(t, StatusStreaming, status)

	f.putDoc("albums", "b", `{}`)
	require.Eventually(t, func() bool { return len(rec.lines()) == 4 }, time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, "text/event-stream", rec.header.Get("Content-Type"))
	rec.mu.Unlock()

	lines := rec.lines()
	assert.Equal(t, "id: 1", lines[0])
	assert.Equal(t, "id: 2", lines[2])
	data, ok := strings.CutPrefix(lines[3], "data: ")
	require.True(t, ok)
	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "b", ev["id"])
	assert.True(t, strings.HasSuffix(rec.text(), "\n\n"))

	cancel()
	rec.wait(t)
}

func TestChanges_ContinuousConcurrentWriters(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec, status := f.serve(ctx, "GET", "/albums/_changes?feed=continuous", "")
	require.Equal(t, StatusStreaming, status)

	const writers = 64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := NewRequest("PUT", fmt.Sprintf("%s/albums/d%d", testBase, i), []byte(`{}`))
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, StatusCreated, f.router.Handle(context.Background(), req, newRecorder()))
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(rec.lines()) == writers }, 2*time.Second, 10*time.Millisecond)
	seen := make(map[string]bool)
	for _, line := range rec.lines() {
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		seen[ev["id"].(string)] = true
	}
	assert.Len(t, seen, writers)

	cancel()
	rec.wait(t)
}

func TestChanges_ContinuousReportsWinner(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	first := f.putDoc("albums", "x", `{"v":1}`)
	winner := f.putDoc("albums", "x", `{"_rev":"`+first+`","v":2}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec, status := f.serve(ctx, "GET", "/albums/_changes?feed=continuous&since=2&include_docs=true", "")
	require.Equal(t, StatusStreaming, status)

	// A losing branch beside the first revision.
	loser := f.do("PUT", "/albums/x?new_edits=false", `{"_id":"x","_rev":"1-0000","v":0}`)
	require.Equal(t, StatusCreated, loser.status, loser.text())

	require.Eventually(t, func() bool { return len(rec.lines()) == 1 }, time.Second, 10*time.Millisecond)
	var ev map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(rec.lines()[0]), &ev))
	assert.Equal(t, 3.0, ev["seq"])
	assert.Equal(t, winner, ev["changes"].([]interface{})[0].(map[string]interface{})["rev"])
	assert.Equal(t, 2.0, ev["doc"].(map[string]interface{})["v"])

	normal := f.do("GET", "/albums/_changes?since=2", "")
	results := normal.object(t)["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, ev["changes"], results[0].(map[string]interface{})["changes"])

	cancel()
	rec.wait(t)
}
