// Package checksum computes the content hashes used as funnel ETags and
// export file digests.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// JSON returns the digest of v's JSON encoding. Map keys are sorted by
// encoding/json, so equal values hash equally. Values that cannot be
// encoded hash to the digest of nothing.
func JSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return Sum(nil)
	}
	return Sum(data)
}
