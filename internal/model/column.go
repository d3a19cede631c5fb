package model

import (
	"regexp"
	"strings"
	"time"
)

// Reserved column names (system fields)
var reservedColumnNames = map[string]bool{
	"_id":         true,
	"_hash":       true,
	"_created_at": true,
	"_created_by": true,
	"_updated_at": true,
	"_updated_by": true,
}

// Column name validation regex:
// - Must start with a letter
// - Can contain letters, numbers, underscores
// - Max 64 characters
var columnNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,63}$`)

// Column represents a user-defined column of a table.
type Column struct {
	Name    string    `json:"name"`
	Desc    string    `json:"desc,omitempty"`
	Added   time.Time `json:"added"`
	AddedBy string    `json:"added_by"`
}

// ValidateColumnName checks if a column name is valid.
func ValidateColumnName(name string) error {
	if reservedColumnNames[strings.ToLower(name)] {
		return ErrReservedColumn
	}
	if !columnNameRegex.MatchString(name) {
		return ErrInvalidColumn
	}
	return nil
}

// IsReservedColumn returns true if the name is a reserved system column.
func IsReservedColumn(name string) bool {
	return reservedColumnNames[strings.ToLower(name)]
}

// ColumnList provides case-insensitive column operations.
type ColumnList []Column

// Find returns the column with the given name (case-insensitive).
// Returns nil if not found.
func (cl ColumnList) Find(name string) *Column {
	if i := cl.Index(name); i >= 0 {
		return &cl[i]
	}
	return nil
}

// Exists returns true if a column with the given name exists (case-insensitive).
func (cl ColumnList) Exists(name string) bool {
	return cl.Index(name) >= 0
}

// Index returns the position of the named column (case-insensitive), or -1.
func (cl ColumnList) Index(name string) int {
	for i := range cl {
		if strings.EqualFold(cl[i].Name, name) {
			return i
		}
	}
	return -1
}

// Names returns all column names.
func (cl ColumnList) Names() []string {
	names := make([]string, len(cl))
	for i, c := range cl {
		names[i] = c.Name
	}
	return names
}
