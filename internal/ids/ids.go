// Package ids generates ULIDs for payments, bundles, documents and viewer
// sessions. ULIDs sort by creation time, which keeps listing queries cheap.
package ids

import "github.com/oklog/ulid/v2"

// New returns a fresh lexicographically sortable identifier.
func New() string {
	return ulid.Make().String()
}
