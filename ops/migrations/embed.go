// Package migrations embeds the SQL schema and seed files so the migrate
// binary is self-contained.
package migrations

import "embed"

//go:embed sql/*.sql
var SQL embed.FS

//go:embed seeds/*.sql
var Seeds embed.FS
