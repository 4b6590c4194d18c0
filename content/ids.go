// ABOUTME: ULID generation for content records.
// ABOUTME: Centralizes ID creation so all records use the same entropy source.
package content

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string using crypto/rand entropy.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
