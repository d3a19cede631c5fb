package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Record represents a single row of a table.
type Record struct {
	ID        string    `json:"_id"`
	Hash      string    `json:"_hash"`
	CreatedAt time.Time `json:"_created_at"`
	CreatedBy string    `json:"_created_by"`
	UpdatedAt time.Time `json:"_updated_at"`
	UpdatedBy string    `json:"_updated_by"`
	Fields    map[string]interface{}
}

// IsStored returns true once storage has assigned the record an ID.
func (r *Record) IsStored() bool {
	return r.ID != ""
}

// Clone returns a copy of the record that shares nothing mutable with r.
// Field values are copied shallowly.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return &c
}

// CalculateHash computes the SHA-256 hash of the record's user fields.
// Returns the first 12 characters of the hex-encoded hash.
func (r *Record) CalculateHash() string {
	return CalculateHash(r.Fields)
}

// CalculateHash computes a deterministic hash from a map of fields.
// Only non-system fields (those not starting with "_") are included.
// Returns the first 12 characters of the hex-encoded SHA-256 hash.
func CalculateHash(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		v, _ := json.Marshal(fields[k])
		buf.WriteString(k)
		buf.WriteString(":")
		buf.Write(v)
		buf.WriteString("\n")
	}

	hash := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(hash[:])[:12]
}

// MarshalJSON implements custom JSON marshaling that flattens Fields into the output.
func (r *Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(r.Fields)+6)
	for k, v := range r.Fields {
		m[k] = v
	}

	m["_id"] = r.ID
	m["_hash"] = r.Hash
	m["_created_at"] = r.CreatedAt
	m["_created_by"] = r.CreatedBy
	m["_updated_at"] = r.UpdatedAt
	m["_updated_by"] = r.UpdatedBy

	return json.Marshal(m)
}

// UnmarshalJSON implements custom JSON unmarshaling that extracts Fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	if v, ok := m["_id"].(string); ok {
		r.ID = v
	}
	if v, ok := m["_hash"].(string); ok {
		r.Hash = v
	}
	if v, ok := m["_created_by"].(string); ok {
		r.CreatedBy = v
	}
	if v, ok := m["_updated_by"].(string); ok {
		r.UpdatedBy = v
	}
	if v, ok := m["_created_at"].(string); ok {
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := m["_updated_at"].(string); ok {
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}

	r.Fields = make(map[string]interface{})
	for k, v := range m {
		if !strings.HasPrefix(k, "_") {
			r.Fields[k] = v
		}
	}

	return nil
}

// GetField returns the value of a field, using case-insensitive matching.
func (r *Record) GetField(name string) (interface{}, bool) {
	if v, ok := r.Fields[name]; ok {
		return v, true
	}
	for k, v := range r.Fields {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// SetField sets a field value, using case-insensitive key matching.
// If the field exists (case-insensitive), updates it using the original case.
// If new, uses the provided case.
func (r *Record) SetField(name string, value interface{}) {
	if r.Fields == nil {
		r.Fields = make(map[string]interface{})
	}

	for k := range r.Fields {
		if strings.EqualFold(k, name) {
			r.Fields[k] = value
			return
		}
	}

	r.Fields[name] = value
}
