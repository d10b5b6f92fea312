// Package migrations embeds the goose schema migrations for both storage
// dialects.
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
