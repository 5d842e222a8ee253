// Package migrations embeds the SQL schema applied by cmd/migrate and the
// optional auto-migrate step of cmd/api.
package migrations

import "embed"

// FS holds the versioned up/down SQL files.
//
//go:embed *.sql
var FS embed.FS
