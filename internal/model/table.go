package model

import (
	"fmt"
	"regexp"
	"time"
)

// Prefix validation:
// - Must be 3-5 characters total
// - Must be 2-4 lowercase letters followed by a dash
// - Examples: ab-, inv-, abcd-
var prefixRegex = regexp.MustCompile(`^[a-z]{2,4}-$`)

// Table name validation:
// - Must start with a letter
// - Can contain letters, numbers, hyphens, underscores
// - Max 64 characters
var tableNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// Table is the schema of a backing table: its name, the prefix of the IDs
// generated for new records and its user columns in display order.
type Table struct {
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"`
	Created   time.Time  `json:"created"`
	CreatedBy string     `json:"created_by"`
	Columns   ColumnList `json:"columns"`
}

// ValidatePrefix checks if a prefix is valid.
func ValidatePrefix(prefix string) error {
	if len(prefix) < 3 || len(prefix) > 5 {
		return fmt.Errorf("%w: must be 3-5 characters (2-4 letters + dash), got %d", ErrInvalidPrefix, len(prefix))
	}

	if prefix[len(prefix)-1] != '-' {
		return fmt.Errorf("%w: must end with dash", ErrInvalidPrefix)
	}

	if !prefixRegex.MatchString(prefix) {
		return fmt.Errorf("%w: must be 2-4 lowercase letters followed by dash (e.g., inv-, ab-, abcd-)", ErrInvalidPrefix)
	}

	return nil
}

// ValidateTableName checks if a table name is valid.
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidTable)
	}

	if !tableNameRegex.MatchString(name) {
		return fmt.Errorf("%w: must start with a letter and contain only letters, numbers, hyphens, and underscores", ErrInvalidTable)
	}

	return nil
}

// AddColumn adds a new column to the table.
// Returns an error if the column already exists (case-insensitive).
func (t *Table) AddColumn(col Column) error {
	if existing := t.Columns.Find(col.Name); existing != nil {
		return fmt.Errorf("%w: column '%s' already exists", ErrColumnExists, existing.Name)
	}

	if err := ValidateColumnName(col.Name); err != nil {
		return err
	}

	t.Columns = append(t.Columns, col)
	return nil
}

// GetColumn returns the column with the given name (case-insensitive).
func (t *Table) GetColumn(name string) (*Column, error) {
	col := t.Columns.Find(name)
	if col == nil {
		return nil, ErrColumnNotFound
	}
	return col, nil
}

// HasColumns returns true if the table has at least one column.
func (t *Table) HasColumns() bool {
	return len(t.Columns) > 0
}

// NewRecord returns an empty record for the table, owned by actor.
// The ID is assigned by storage when the record is inserted.
func (t *Table) NewRecord(actor string) *Record {
	now := time.Now().UTC()
	return &Record{
		CreatedAt: now,
		CreatedBy: actor,
		UpdatedAt: now,
		UpdatedBy: actor,
		Fields:    make(map[string]interface{}),
	}
}
