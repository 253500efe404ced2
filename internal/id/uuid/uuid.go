// Package uuid provides ID derivation helpers.
package uuid

import (
	"github.com/google/uuid"
)

// Namespace is the UUIDv5 namespace cassette identities are derived in.
var Namespace = uuid.NameSpaceURL

// FromURL returns the name-based (v5) UUID of rawURL, so the same canonical
// URL maps to the same identity across crawls.
func FromURL(rawURL string) uuid.UUID {
	return uuid.NewSHA1(Namespace, []byte(rawURL))
}
