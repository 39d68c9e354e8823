// Package db provides the embedded goose migrations.
package db

import "embed"

// Migrations holds the versioned schema files applied at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS
