// Package store embeds the queue's migration SQL so callers can apply
// it without shipping the .sql file separately.
package store

import _ "embed"

//go:embed schema.sql
var Schema string
