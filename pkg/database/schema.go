package database

import "embed"

// Schema holds the versioned SQL migrations shipped with the binary
//
//go:embed migrations/*.sql
var Schema embed.FS
