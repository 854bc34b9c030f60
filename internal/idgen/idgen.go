// Package idgen generates the random identifiers handed out by the
// escrow API. Session IDs are "esc_" plus 24 hex chars; the entropy
// comes from crypto/rand because the ID doubles as the unguessable
// token in the link sent to the opposing captain.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// WithPrefix generates prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
