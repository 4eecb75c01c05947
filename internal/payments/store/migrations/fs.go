// Package migrations embeds the goose SQL migrations for the sessions
// store.
package migrations

import "embed"

//go:embed *.sql
var migrationsFS embed.FS

// FS returns the embedded migration files for goose.SetBaseFS.
func FS() embed.FS {
	return migrationsFS
}
