package services

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// PlayerID derives the stable player id of a username. Case and
// surrounding whitespace do not change the id.
func PlayerID(username string) string {
	sum := blake2b.Sum256([]byte(strings.ToLower(strings.TrimSpace(username))))
	return "p_" + hex.EncodeToString(sum[:8])
}
