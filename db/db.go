// Package db embeds the SQL migrations and seed files so the binaries can
// run them without a checkout on disk.
package db

import "embed"

//go:embed migrations seeds
var Files embed.FS
