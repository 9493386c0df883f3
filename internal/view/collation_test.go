package view

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollate_TypeOrder(t *testing.T) {
	ordered := []interface{}{
		nil,
		false,
		true,
		-1.0,
		1,
		2.5,
		"a",
		"A",
		"aa",
		"b",
		[]interface{}{"a"},
		[]interface{}{"a", 1.0},
		[]interface{}{"b"},
		map[string]interface{}{"a": 1.0},
		map[string]interface{}{"a": 2.0},
		map[string]interface{}{"a": 2.0, "b": 1.0},
	}
	for i := 0; i < len(ordered)-1; i++ {
		a, b := ordered[i], ordered[i+1]
		assert.Equal(t, -1, Collate(a, b), "%v < %v", a, b)
		assert.Equal(t, 1, Collate(b, a), "%v > %v", b, a)
	}
	assert.Equal(t, 0, Collate(1, 1.0))
	assert.Equal(t, 0, Collate(json.Number("3"), 3.0))
}

func TestCollateRaw(t *testing.T) {
	// Byte order puts uppercase first, unlike the default collation
	assert.Equal(t, -1, CollateRaw("B", "a"))
	assert.Equal(t, 1, Collate("B", "a"))
	assert.Equal(t, 0, CollateRaw([]interface{}{1.0}, []interface{}{1.0}))
}

func TestParseCollation(t *testing.T) {
	assert.Equal(t, CollationRaw, ParseCollation("raw"))
	assert.Equal(t, CollationRaw, ParseCollation("RAW"))
	assert.Equal(t, CollationJSON, ParseCollation(""))
	assert.Equal(t, "raw", CollationRaw.String())
}
