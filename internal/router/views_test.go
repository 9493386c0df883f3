package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmedlin/touchdb/internal/view"
	"github.com/fmedlin/touchdb/pkg/model"
)

const albumsDesign = `{
	"language": "cel",
	"views": {
		"by_year": {
			"map": "has(doc.year) ? [[doc.year, doc.title]] : []",
			"reduce": "_count"
		},
		"titles": {
			"map": "has(doc.title) ? [[doc.title, null]] : []"
		}
	}
}`

func (f *fixture) seedAlbums() string {
	f.t.Helper()
	f.createDB("albums")
	rev := f.putDoc("albums", "_design/app", albumsDesign)
	f.putDoc("albums", "blue", `{"title":"Blue","year":1971}`)
	f.putDoc("albums", "hejira", `{"title":"Hejira","year":1976}`)
	f.putDoc("albums", "ladies", `{"title":"Ladies of the Canyon","year":1970}`)
	return rev
}

func viewRows(t *testing.T, rec *recorder) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, r := range rec.object(t)["rows"].([]interface{}) {
		out = append(out, r.(map[string]interface{}))
	}
	return out
}

func TestView_Query(t *testing.T) {
	f := newFixture(t)
	f.seedAlbums()

	t.Run("reduce by default", func(t *testing.T) {
		rec := f.do("GET", "/albums/_design/app/_view/by_year", "")
		require.Equal(t, StatusOK, rec.status, rec.text())
		rows := viewRows(t, rec)
		require.Len(t, rows, 1)
		assert.Equal(t, 3.0, rows[0]["value"])
	})

	t.Run("map rows in key order", func(t *testing.T) {
		rec := f.do("GET", "/albums/_design/app/_view/by_year?reduce=false", "")
		require.Equal(t, StatusOK, rec.status)
		rows := viewRows(t, rec)
		require.Len(t, rows, 3)
		assert.Equal(t, "ladies", rows[0]["id"])
		assert.Equal(t, 1970.0, rows[0]["key"])
		assert.Equal(t, "hejira", rows[2]["id"])
		body := rec.object(t)
		assert.Equal(t, 3.0, body["total_rows"])
		assert.Equal(t, 0.0, body["offset"])
	})

	t.Run("range and descending", func(t *testing.T) {
		rec := f.do("GET", "/albums/_design/app/_view/by_year?reduce=false&startkey=1971&endkey=1976&inclusive_end=false", "")
		rows := viewRows(t, rec)
		require.Len(t, rows, 1)
		assert.Equal(t, "blue", rows[0]["id"])

		rec = f.do("GET", "/albums/_design/app/_view/titles?descending=true&limit=2&update_seq=true", "")
		body := rec.object(t)
		rows = viewRows(t, rec)
		require.Len(t, rows, 2)
		assert.Equal(t, "Ladies of the Canyon", rows[0]["key"])
		assert.Contains(t, rows[0], "value")
		assert.Nil(t, rows[0]["value"])
		assert.Equal(t, 4.0, body["update_seq"])
	})

	t.Run("key and include_docs", func(t *testing.T) {
		rec := f.do("GET", `/albums/_design/app/_view/titles?key="Blue"&include_docs=true`, "")
		rows := viewRows(t, rec)
		require.Len(t, rows, 1)
		assert.Equal(t, 1971.0, rows[0]["doc"].(map[string]interface{})["year"])
	})

	t.Run("include_docs with reduce is rejected", func(t *testing.T) {
		rec := f.do("GET", "/albums/_design/app/_view/by_year?include_docs=true", "")
		assert.Equal(t, StatusBadRequest, rec.status)
	})

	t.Run("post keys", func(t *testing.T) {
		rec := f.do("POST", "/albums/_design/app/_view/by_year?reduce=false", `{"keys":[1976,1970]}`)
		require.Equal(t, StatusOK, rec.status)
		rows := viewRows(t, rec)
		require.Len(t, rows, 2)
		assert.Equal(t, "hejira", rows[0]["id"])
		assert.Equal(t, "ladies", rows[1]["id"])
		assert.Empty(t, rec.header.Get("ETag"))

		rec = f.do("POST", "/albums/_design/app/_view/by_year", `{"nokeys":1}`)
		assert.Equal(t, StatusBadRequest, rec.status)
	})

	t.Run("missing view", func(t *testing.T) {
		assert.Equal(t, StatusNotFound, f.do("GET", "/albums/_design/app/_view/nope", "").status)
		assert.Equal(t, StatusNotFound, f.do("GET", "/albums/_design/other/_view/by_year", "").status)
	})
}

func TestView_ETag(t *testing.T) {
	f := newFixture(t)
	f.seedAlbums()

	rec := f.do("GET", "/albums/_design/app/_view/titles", "")
	require.Equal(t, StatusOK, rec.status)
	etag := rec.header.Get("ETag")
	assert.Equal(t, `"4"`, etag)

	rec = f.do("GET", "/albums/_design/app/_view/titles", "", header{"If-None-Match", etag})
	assert.Equal(t, StatusNotModified, rec.status)
	assert.Empty(t, rec.text())

	f.putDoc("albums", "court", `{"title":"Court and Spark","year":1974}`)
	rec = f.do("GET", "/albums/_design/app/_view/titles", "", header{"If-None-Match", etag})
	require.Equal(t, StatusOK, rec.status)
	assert.Len(t, viewRows(t, rec), 4)
	assert.Equal(t, `"5"`, rec.header.Get("ETag"))
}

func TestView_RecompilesWhenDesignChanges(t *testing.T) {
	f := newFixture(t)
	rev := f.seedAlbums()

	rec := f.do("GET", "/albums/_design/app/_view/titles", "")
	assert.Len(t, viewRows(t, rec), 3)

	f.putDoc("albums", "_design/app", `{"_rev":"`+rev+`","views":{"titles":{"map":"has(doc.year) && doc.year > 1970 ? [[doc.title, doc.year]] : []"}}}`)

	rec = f.do("GET", "/albums/_design/app/_view/titles", "")
	require.Equal(t, StatusOK, rec.status)
	rows := viewRows(t, rec)
	require.Len(t, rows, 2)
	assert.Equal(t, "Blue", rows[0]["key"])
	assert.Equal(t, 1971.0, rows[0]["value"])
}

func TestView_BadMapFunction(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "_design/bad", `{"views":{"v":{"map":"doc.year =="}}}`)
	f.putDoc("albums", "_design/lang", `{"language":"javascript","views":{"v":{"map":"function(doc){}"}}}`)

	assert.Equal(t, StatusInternalError, f.do("GET", "/albums/_design/bad/_view/v", "").status)
	assert.Equal(t, StatusInternalError, f.do("GET", "/albums/_design/lang/_view/v", "").status)
}

func TestView_RegisteredInCode(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "a", `{"n":2}`)
	f.putDoc("albums", "b", `{"n":1}`)

	db, err := f.server.ExistingDatabaseNamed("albums")
	require.NoError(t, err)
	v := f.views.View(db, "code/by_n")
	v.SetFunctions(func(doc model.Body) ([]view.Emit, error) {
		if n, ok := doc["n"]; ok {
			return []view.Emit{{Key: n, Value: doc["_id"]}}, nil
		}
		return nil, nil
	}, nil, "", "", view.CollationJSON, "")

	// No design document exists for a view registered in code.
	rec := f.do("GET", "/albums/_design/code/_view/by_n", "")
	require.Equal(t, StatusOK, rec.status, rec.text())
	rows := viewRows(t, rec)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["value"])
}

func TestView_DesignInfo(t *testing.T) {
	f := newFixture(t)
	f.seedAlbums()
	f.do("GET", "/albums/_design/app/_view/titles", "")

	rec := f.do("GET", "/albums/_design/app/_info", "")
	require.Equal(t, StatusOK, rec.status)
	body := rec.object(t)
	assert.Equal(t, "app", body["name"])
	index := body["view_index"].(map[string]interface{})
	assert.Equal(t, "cel", index["language"])
	assert.Equal(t, []interface{}{"by_year", "titles"}, index["views"])
	assert.Equal(t, 4.0, index["update_seq"])

	assert.Equal(t, StatusNotFound, f.do("GET", "/albums/_design/none/_info", "").status)
}

func TestView_DroppedWithDatabase(t *testing.T) {
	f := newFixture(t)
	f.seedAlbums()
	f.do("GET", "/albums/_design/app/_view/titles", "")

	db, err := f.server.ExistingDatabaseNamed("albums")
	require.NoError(t, err)
	require.NotNil(t, f.views.ExistingView(db, "app/titles"))

	require.Equal(t, StatusOK, f.do("DELETE", "/albums", "").status)
	assert.Nil(t, f.views.ExistingView(db, "app/titles"))
}

func TestView_LanguagePerView(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "a", `{"x":1}`)
	f.putDoc("albums", "_design/own", `{"views":{"v":{"language":"javascript","map":"[[doc.x, 1]]"}}}`)
	f.putDoc("albums", "_design/mixed", `{"language":"javascript","views":{"v":{"language":"cel","map":"has(doc.x) ? [[doc.x, 1]] : []"}}}`)

	assert.Equal(t, StatusInternalError, f.do("GET", "/albums/_design/own/_view/v", "").status)

	rec := f.do("GET", "/albums/_design/mixed/_view/v", "")
	require.Equal(t, StatusOK, rec.status, rec.text())
	assert.Len(t, viewRows(t, rec), 1)
}

func TestView_Collation(t *testing.T) {
	f := newFixture(t)
	f.createDB("albums")
	f.putDoc("albums", "lower", `{"t":"a"}`)
	f.putDoc("albums", "upper", `{"t":"B"}`)
	f.putDoc("albums", "_design/app", `{"views":{`+
		`"default":{"map":"has(doc.t) ? [[doc.t, 1]] : []"},`+
		`"raw":{"map":"has(doc.t) ? [[doc.t, 1]] : []","collation":"raw"},`+
		`"opts":{"map":"has(doc.t) ? [[doc.t, 1]] : []","options":{"collation":"raw"}}}}`)

	tests := []struct {
		view string
		want []interface{}
	}{
		{"default", []interface{}{"a", "B"}},
		{"raw", []interface{}{"B", "a"}},
		{"opts", []interface{}{"B", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.view, func(t *testing.T) {
			rec := f.do("GET", "/albums/_design/app/_view/"+tt.view, "")
			require.Equal(t, StatusOK, rec.status, rec.text())
			var keys []interface{}
			for _, row := range viewRows(t, rec) {
				keys = append(keys, row["key"])
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}
