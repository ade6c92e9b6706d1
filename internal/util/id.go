package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier such as "task_3f2a…". Entity prefixes keep
// ids self-describing in logs and audit payloads.
func NewID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
