package database

import "embed"

// EmbeddedMigrations carries migrations/*.sql inside the binary.
// Use fs.Sub(EmbeddedMigrations, "migrations") to get the directory itself.
//
//go:embed migrations/*.sql
var EmbeddedMigrations embed.FS
