package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	gojson "github.com/goccy/go-json"
)

// keyHashLen is the number of hex characters kept from the digest.
const keyHashLen = 16

// GenerateKey builds a cache key of the form "<namespace>-<hash>" where hash
// is derived from parts. Equal parts always yield the same key.
func GenerateKey(namespace string, parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return namespace + "-" + hex.EncodeToString(h[:])[:keyHashLen]
}

func marshalJSON(v any) ([]byte, error) {
	return gojson.Marshal(v)
}
