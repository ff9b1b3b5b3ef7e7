// Package migrations embeds the prefs schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
