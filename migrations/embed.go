// Package migrations embeds the PostgreSQL schema for transaction_queue and rate_limits.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
