// Package token provides API key generation.
package token

import (
	"crypto/rand"
)

const keyLength = 32

// keyPrefix marks gateway API keys so they are recognizable in config
// files and secret stores.
const keyPrefix = "fgk_"

var charset = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

// GenerateKey returns a new random API key. The raw key is shown to the
// operator once; only its hash is ever stored.
func GenerateKey() (string, error) {
	b := make([]byte, keyLength)
	randomBytes := make([]byte, keyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = charset[int(randomBytes[i])%len(charset)]
	}
	return keyPrefix + string(b), nil
}
