package id

import (
	"crypto/rand"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs are lexicographically sortable
// by creation time, which keeps object keys of one run adjacent in listings.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewRecordID returns a random UUID used as the opaque record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// IsRecordID reports whether s has the canonical 36-character UUID shape.
// Other forms uuid.Parse accepts (urn:, braces, no hyphens) are rejected.
func IsRecordID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
