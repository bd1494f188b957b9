// Package migration embeds the sqlite schema scripts. Scripts run in
// lexical order; the database user_version tracks how many have been
// applied.
package migration

import "embed"

//go:embed *.sql
var Scripts embed.FS
