package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRevID splits a "<generation>-<suffix>" revision ID.
func ParseRevID(revID string) (gen int, suffix string, ok bool) {
	dash := strings.IndexByte(revID, '-')
	if dash <= 0 || dash == len(revID)-1 {
		return 0, "", false
	}
	gen, err := strconv.Atoi(revID[:dash])
	if err != nil || gen < 0 {
		return 0, "", false
	}
	return gen, revID[dash+1:], true
}

// CompareRevIDs orders revision IDs by generation, then by suffix.
func CompareRevIDs(a, b string) int {
	genA, sufA, okA := ParseRevID(a)
	genB, sufB, okB := ParseRevID(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	if genA != genB {
		if genA < genB {
			return -1
		}
		return 1
	}
	return strings.Compare(sufA, sufB)
}

// ParseRevisionHistory expands the _revisions property of a body into a list
// of full revision IDs, newest first. Returns nil if the property is absent or
// malformed.
func ParseRevisionHistory(body Body) []string {
	revs, ok := body["_revisions"].(map[string]interface{})
	if !ok {
		return nil
	}
	start, ok := toInt(revs["start"])
	if !ok {
		return nil
	}
	ids, ok := revs["ids"].([]interface{})
	if !ok || len(ids) == 0 || start < len(ids) {
		return nil
	}
	history := make([]string, 0, len(ids))
	for i, raw := range ids {
		id, ok := raw.(string)
		if !ok {
			return nil
		}
		history = append(history, fmt.Sprintf("%d-%s", start-i, id))
	}
	return history
}

// FormatRevisionHistory is the inverse of ParseRevisionHistory.
func FormatRevisionHistory(history []string) map[string]interface{} {
	ids := make([]interface{}, 0, len(history))
	start := 0
	for i, revID := range history {
		gen, suffix, ok := ParseRevID(revID)
		if !ok {
			continue
		}
		if i == 0 {
			start = gen
		}
		ids = append(ids, suffix)
	}
	return map[string]interface{}{"start": start, "ids": ids}
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
