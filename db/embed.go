// Package db carries the embedded database schema.
package db

import _ "embed"

// Schema holds the DDL for every table the engine persists to.
//
//go:embed migrations/001_schema.sql
var Schema string
