// Package db embeds the SQL migration files shipped with the binary.
package db

import "embed"

//go:embed migrations/*.sql
var MigrationFS embed.FS
