// Package migrations хранит SQL-схему, встроенную в бинарь (goose).
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
