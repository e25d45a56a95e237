package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashBytes returns a SHA256 hash of the content, e.g. an uploaded image.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Fingerprint returns a short, stable digest of v's JSON encoding. Map keys
// are sorted by encoding/json, so equal values always share a fingerprint.
// It is sent to the analyzer as the config_version of a request.
func Fingerprint(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return TruncateHash(HashBytes(data), 16), nil
}

// TruncateHash returns a truncated hash for display purposes.
func TruncateHash(hash string, length int) string {
	if len(hash) <= length {
		return hash
	}
	return hash[:length]
}
