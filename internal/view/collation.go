package view

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"unicode"
)

// Collation orders view keys.
type Collation int

const (
	// CollationJSON is CouchDB view collation: null < false < true < numbers
	// < strings < arrays < objects.
	CollationJSON Collation = iota
	// CollationRaw compares the JSON encodings byte by byte.
	CollationRaw
)

// ParseCollation maps the "collation" design-document option.
func ParseCollation(name string) Collation {
	if strings.EqualFold(name, "raw") {
		return CollationRaw
	}
	return CollationJSON
}

func (c Collation) Compare(a, b interface{}) int {
	if c == CollationRaw {
		return CollateRaw(a, b)
	}
	return Collate(a, b)
}

func (c Collation) String() string {
	if c == CollationRaw {
		return "raw"
	}
	return "json"
}

// CollateRaw compares the JSON encodings of a and b.
func CollateRaw(a, b interface{}) int {
	ea, _ := json.Marshal(a)
	eb, _ := json.Marshal(b)
	return bytes.Compare(ea, eb)
}

const (
	rankNull = iota
	rankFalse
	rankTrue
	rankNumber
	rankString
	rankArray
	rankObject
)

func rank(v interface{}) int {
	switch x := v.(type) {
	case nil:
		return rankNull
	case bool:
		if x {
			return rankTrue
		}
		return rankFalse
	case string:
		return rankString
	case []interface{}:
		return rankArray
	case map[string]interface{}:
		return rankObject
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankObject
}

// Collate compares two decoded JSON values. Strings compare
// case-insensitively first with lowercase ahead of uppercase on ties; objects
// compare by their sorted keys, then values.
func Collate(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		return collateStrings(a.(string), b.(string))
	case rankArray:
		return collateArrays(a.([]interface{}), b.([]interface{}))
	case rankObject:
		ma, _ := a.(map[string]interface{})
		mb, _ := b.(map[string]interface{})
		return collateObjects(ma, mb)
	}
	return 0
}

func collateStrings(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(invertCase(a), invertCase(b))
}

func invertCase(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsUpper(r):
			return unicode.ToLower(r)
		case unicode.IsLower(r):
			return unicode.ToUpper(r)
		}
		return r
	}, s)
}

func collateArrays(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Collate(a[i], b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func collateObjects(a, b map[string]interface{}) int {
	ka, kb := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if c := collateStrings(ka[i], kb[i]); c != 0 {
			return c
		}
		if c := Collate(a[ka[i]], b[kb[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ka), len(kb))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
