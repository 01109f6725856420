// Package token issues signer bearer tokens and derives the one-way lookup
// hash that is the only form ever persisted. A database read can therefore
// never reveal a usable signing link.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

const rawLen = 32 // 256 bits of entropy per issued token

// Issue returns a fresh bearer token and its lookup hash. The token is shown
// to the signer exactly once, embedded in their signing link.
func Issue() (token, hash string) {
	b := make([]byte, rawLen)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	token = hex.EncodeToString(b)
	return token, Hash(token)
}

// Hash maps a presented bearer token to its stored lookup hash.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
