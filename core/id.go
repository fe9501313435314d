package core

import (
	"crypto/rand"
	"encoding/hex"
)

// NewScratchID returns a random identifier naming one session's server-side scratch space.
func NewScratchID() (string, error) {
	return randomHex(16)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
