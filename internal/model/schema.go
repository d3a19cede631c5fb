package model

// RecordSchema exposes the user columns of a table by position, which is
// how the row cache addresses cells.
type RecordSchema struct {
	Columns ColumnList
}

// NewRecordSchema returns the schema of t.
func NewRecordSchema(t *Table) RecordSchema {
	return RecordSchema{Columns: t.Columns}
}

// ColumnCount returns the number of user columns.
func (s RecordSchema) ColumnCount() int {
	return len(s.Columns)
}

// ColumnName returns the name of the column at position column.
func (s RecordSchema) ColumnName(column int) string {
	if column < 0 || column >= len(s.Columns) {
		return ""
	}
	return s.Columns[column].Name
}

// Value returns the value of a column, or nil when unset.
func (s RecordSchema) Value(rec *Record, column int) any {
	name := s.ColumnName(column)
	if rec == nil || name == "" {
		return nil
	}
	v, _ := rec.GetField(name)
	return v
}

// WithValue returns a copy of rec with column set to v. rec is not
// modified, so a copy held elsewhere keeps its old value.
func (s RecordSchema) WithValue(rec *Record, column int, v any) *Record {
	out := rec.Clone()
	if out == nil {
		out = &Record{Fields: make(map[string]interface{})}
	}
	if name := s.ColumnName(column); name != "" {
		out.SetField(name, v)
	}
	return out
}
