// Package migrations embeds the catalog's PostgreSQL schema.
package migrations

import "embed"

// FS holds the ordered *.up.sql files applied at startup.
//
//go:embed *.up.sql
var FS embed.FS
