// Package migrations embeds the SQL migration files of the label store, one
// directory per SQL dialect.
package migrations

import "embed"

// FS contains all SQL migration files embedded at compile time.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
