// Package migrations содержит SQL-схему чатов и триггеры ленты изменений.
package migrations

import "embed"

// Files — все .sql файлы; применяются в лексикографическом порядке (001, 002, ...).
//
//go:embed *.sql
var Files embed.FS
