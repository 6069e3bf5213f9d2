package service

import (
	"crypto/rand"
	"encoding/hex"
)

// tokenBytes of entropy per submission token (hex encoded: twice as many chars).
const tokenBytes = 32

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
