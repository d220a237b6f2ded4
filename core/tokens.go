package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// RandomTokenSource mints URL-safe opaque strings from crypto/rand.
type RandomTokenSource struct{}

func (RandomTokenSource) Token() (string, error) {
	return randomOpaque(24)
}

func (RandomTokenSource) Secret() (string, error) {
	return randomOpaque(32)
}

func (RandomTokenSource) Verifier() (string, error) {
	return randomOpaque(16)
}

func randomOpaque(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("core: token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ TokenSource = RandomTokenSource{}
