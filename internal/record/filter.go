package record

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// OpIn is the operator key of a record-side membership condition.
const OpIn = "$in"

// Filter maps field names to match conditions. See the package docs for the
// three condition forms.
type Filter map[string]any

// In builds a {"$in": values} condition: the record's array field must
// contain at least one of values.
func In(values ...any) map[string]any {
	return map[string]any{OpIn: values}
}

// ByID is shorthand for Filter{"id": id}.
func ByID(id string) Filter {
	return Filter{FieldID: id}
}

// Clone returns a shallow copy of the filter.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// WithDefaults returns a copy of f with isDeleted=false injected unless the
// caller already constrained isDeleted.
func (f Filter) WithDefaults() Filter {
	out := f.Clone()
	if _, ok := out[FieldDeleted]; !ok {
		out[FieldDeleted] = false
	}
	return out
}

// IncludingDeleted returns a copy of f that matches live and soft-deleted
// records alike.
func (f Filter) IncludingDeleted() Filter {
	out := f.Clone()
	out[FieldDeleted] = []any{false, true}
	return out
}

// String renders the filter as compact JSON for logs and error messages.
func (f Filter) String() string {
	data, err := json.Marshal(map[string]any(f))
	if err != nil {
		return "{?}"
	}
	return string(data)
}

// Fields returns the filter's field names in sorted order.
func (f Filter) Fields() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Condition classifies a single filter entry.
type Condition int

const (
	// CondEqual requires the record value to equal the filter value.
	CondEqual Condition = iota
	// CondOneOf requires the record's scalar value to be one of a list.
	CondOneOf
	// CondContainsAny requires the record's array value to contain any of a list.
	CondContainsAny
)

// Classify reports the condition kind of a filter value, and its operand
// list for CondOneOf / CondContainsAny.
func Classify(value any) (Condition, []any) {
	if m, ok := asObject(value); ok {
		if in, ok := m[OpIn]; ok && len(m) == 1 {
			return CondContainsAny, asList(in)
		}
		return CondEqual, nil
	}
	if list, ok := asArray(value); ok {
		return CondOneOf, list
	}
	return CondEqual, nil
}

// Match reports whether rec satisfies every condition of f.
func (f Filter) Match(rec Record) bool {
	for field, want := range f {
		got, present := rec[field]
		if !present && field == FieldDeleted {
			// isDeleted defaults to false.
			got, present = false, true
		}
		cond, operands := Classify(want)
		switch cond {
		case CondContainsAny:
			items, ok := asArray(got)
			if !present || !ok || !anyShared(items, operands) {
				return false
			}
		case CondOneOf:
			if !present || !containsValue(operands, got) {
				return false
			}
		default:
			if !present || !Equal(got, want) {
				return false
			}
		}
	}
	return true
}

// Equal compares two JSON-ish values, treating all numeric types alike.
func Equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	if _, ok := toFloat(b); ok {
		return false
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Fall back to comparing canonical JSON so []string and []any agree.
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if Equal(item, v) {
			return true
		}
	}
	return false
}

func anyShared(items, values []any) bool {
	for _, item := range items {
		if containsValue(values, item) {
			return true
		}
	}
	return false
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Record:
		return t, true
	default:
		return nil, false
	}
}

func asArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func asList(v any) []any {
	if list, ok := asArray(v); ok {
		return list
	}
	return []any{v}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ParseCondition parses a "field=value" expression. The value is decoded as
// JSON when it is valid JSON (numbers, booleans, lists, {"$in": [...]}) and
// taken as a plain string otherwise.
func ParseCondition(expr string) (string, any, error) {
	field, raw, ok := strings.Cut(expr, "=")
	field = strings.TrimSpace(field)
	if !ok || field == "" {
		return "", nil, fmt.Errorf("invalid condition %q, want field=value", expr)
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return field, raw, nil
	}
	return field, value, nil
}

// ParseFilter builds a filter from "field=value" expressions.
func ParseFilter(exprs []string) (Filter, error) {
	f := Filter{}
	for _, expr := range exprs {
		field, value, err := ParseCondition(expr)
		if err != nil {
			return nil, err
		}
		f[field] = value
	}
	return f, nil
}
