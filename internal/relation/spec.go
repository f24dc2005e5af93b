// Package relation decorates fetched records with related records from other
// tables.
//
// A relation tree is a []Spec declared by the caller. Resolution is
// depth-first: each related record is itself resolved against the Spec's
// Nested relations before being attached to its parent. Trees are never
// derived from data, so resolution always terminates.
//
// Resolution is best-effort. A relation whose fetch fails is skipped and the
// record is returned without that field; the failure is logged at debug level.
package relation

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind selects how a relation is joined.
type Kind int

const (
	// OneToOne reads rec[LocalField] as a foreign id in Target.
	OneToOne Kind = iota
	// OneToMany collects Target rows whose LocalField equals rec.id.
	OneToMany
	// ManyToOne reads rec[LocalField] as a list of foreign ids in Target.
	ManyToOne
	// ManyToMany collects Target rows whose LocalField array contains rec.id.
	ManyToMany
)

var kindNames = map[Kind]string{
	OneToOne:   "oneToOne",
	OneToMany:  "oneToMany",
	ManyToOne:  "manyToOne",
	ManyToMany: "manyToMany",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses a kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown relation kind %q", s)
}

// MarshalYAML implements yaml.Marshaler.
func (k Kind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *Kind) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*k = parsed
	return nil
}

// Spec declares one relation of a record.
type Spec struct {
	Target      string `yaml:"target"`
	Kind        Kind   `yaml:"kind"`
	LocalField  string `yaml:"localField"`
	ResultField string `yaml:"resultField"`
	Nested      []Spec `yaml:"nested,omitempty"`
}

// Validate checks the spec and its nested relations.
func (s Spec) Validate() error {
	if s.Target == "" {
		return fmt.Errorf("relation target is required")
	}
	if s.LocalField == "" {
		return fmt.Errorf("relation %s: localField is required", s.Target)
	}
	if s.ResultField == "" {
		return fmt.Errorf("relation %s: resultField is required", s.Target)
	}
	if _, ok := kindNames[s.Kind]; !ok {
		return fmt.Errorf("relation %s: invalid kind %d", s.Target, int(s.Kind))
	}
	for _, n := range s.Nested {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.ResultField, err)
		}
	}
	return nil
}
