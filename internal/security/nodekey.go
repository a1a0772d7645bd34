// Package security issues and checks node keys.
// A node key is the only credential the service hands out itself: a random
// capability secret that the node presents on heartbeat and job submission.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// NodeKeyBytes is the entropy of a node key (256 bits).
const NodeKeyBytes = 32

// GenerateNodeKey returns a fresh hex-encoded node key.
func GenerateNodeKey() (string, error) {
	buf := make([]byte, NodeKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate node key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// EqualKey compares a presented key with the stored one in constant time.
// An empty stored key never matches.
func EqualKey(stored, presented string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
