// Package migrations embeds the goose SQL migrations that create the raw
// warehouse layer (schema, message table, detection table).
//
// Migration files follow the naming convention: YYYYMMDDHHMMSS_description.sql
// and are applied in order before any load.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
