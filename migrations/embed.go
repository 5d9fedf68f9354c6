// Package migrations holds the SQL schema of the contract cache and the
// payment notification log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
