// Package model provides the record and table types shared by the row
// cache, the storage backend and the CLI.
package model

import "errors"

// Error types for table and record operations
var (
	ErrTableNotFound  = errors.New("table not found")
	ErrTableExists    = errors.New("table already exists")
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
	ErrColumnNotFound = errors.New("column not found")
	ErrColumnExists   = errors.New("column already exists")
	ErrInvalidID      = errors.New("invalid record ID")
	ErrInvalidPrefix  = errors.New("invalid prefix")
	ErrInvalidTable   = errors.New("invalid table name")
	ErrReservedColumn = errors.New("reserved column name")
	ErrInvalidColumn  = errors.New("invalid column name")
	ErrHashMismatch   = errors.New("hash mismatch detected")
	ErrEmptyRecord    = errors.New("empty record")
)
