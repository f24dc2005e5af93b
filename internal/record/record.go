package record

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Convention field names.
const (
	FieldID        = "id"
	FieldDeleted   = "isDeleted"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"

	// IdentityField is the backend-internal identity. It is meaningful only to
	// the backend that assigned it and is stripped when records cross backends.
	IdentityField = "_id"
)

// TimeFormat is the fixed ISO-8601 precision used for createdAt/updatedAt.
// Comparing timestamps as strings is only sound because every writer uses it.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// Record is a single schema-less document.
type Record map[string]any

// ID returns the record's "id" field, or "" when missing or not a string.
func (r Record) ID() string {
	return r.String(FieldID)
}

// String returns the string value of key, or "" when missing or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bool returns the bool value of key, or false when missing or not a bool.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Strings returns the string elements of an array field.
// Non-string elements are skipped; a missing or scalar field yields nil.
func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// IsDeleted reports whether the record is soft-deleted.
func (r Record) IsDeleted() bool {
	return r.Bool(FieldDeleted)
}

// UpdatedAt returns the raw updatedAt string ("" when absent).
func (r Record) UpdatedAt() string {
	return r.String(FieldUpdatedAt)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []Record:
		out := make([]Record, len(t))
		for i, item := range t {
			out[i] = item.Clone()
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Merge copies every field of partial into r, except the keys in skip.
func (r Record) Merge(partial Record, skip ...string) {
	for k, v := range partial {
		if contains(skip, k) {
			continue
		}
		r[k] = cloneValue(v)
	}
}

// Without returns a copy of the record with the given keys removed.
func (r Record) Without(keys ...string) Record {
	out := r.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// SetDefaults applies store-managed defaults.
func (r Record) SetDefaults() {
	if _, ok := r[FieldDeleted]; !ok {
		r[FieldDeleted] = false
	}
}

// Touch sets updatedAt (and createdAt when missing) to now.
func (r Record) Touch(now time.Time) {
	ts := FormatTime(now)
	if r.String(FieldCreatedAt) == "" {
		r[FieldCreatedAt] = ts
	}
	r[FieldUpdatedAt] = ts
}

// Validate checks the fields every stored record needs.
func (r Record) Validate() error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	raw, ok := r[FieldID]
	if !ok {
		return fmt.Errorf("id is required")
	}
	id, ok := raw.(string)
	if !ok {
		return fmt.Errorf("id must be a string (got %T)", raw)
	}
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	return nil
}

// ValidateTable checks that name is usable as both a file name and a SQL
// table identifier.
func ValidateTable(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// Decode parses a JSON object into a Record.
func Decode(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("document is not a JSON object")
	}
	return rec, nil
}

// FormatTime renders t in TimeFormat, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Newer reports whether src should overwrite dst under last-write-wins.
//
// Timestamps are compared as strings. A missing updatedAt on either side
// always forces the write; equal timestamps never do.
func Newer(src, dst Record) bool {
	s, d := src.UpdatedAt(), dst.UpdatedAt()
	if s == "" || d == "" {
		return true
	}
	return s > d
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
