package storage

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// CalculateRevID derives the ID of a new revision from its parent, deletion
// flag and content. Identical edits of the same parent yield the same ID.
func CalculateRevID(generation int, prevRevID string, deleted bool, body map[string]interface{}) (string, error) {
	content, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode revision body: %w", err)
	}

	h := blake3.New()
	h.Write([]byte(prevRevID))
	if deleted {
		h.Write([]byte{0, 1})
	} else {
		h.Write([]byte{0, 0})
	}
	h.Write(content)
	sum := h.Sum(nil)
	return fmt.Sprintf("%d-%s", generation, hex.EncodeToString(sum[:16])), nil
}

// AttachmentDigest returns the content digest recorded in attachment stubs.
func AttachmentDigest(data []byte) string {
	sum := blake3.Sum256(data)
	return "blake3-" + base64.StdEncoding.EncodeToString(sum[:16])
}
