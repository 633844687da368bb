// Package migrations embeds the sync history schema so the binary can
// migrate its database without SQL files on disk.
package migrations

import "embed"

// FS holds the *.sql files at its root, ready for database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
