package relation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Presets maps a preset name to a relation tree.
//
// File format:
//
//	todoWithTasks:
//	  - target: tasks
//	    kind: oneToMany
//	    localField: todoId
//	    resultField: tasks
//	    nested:
//	      - target: subtasks
//	        kind: oneToMany
//	        localField: taskId
//	        resultField: subtasks
type Presets map[string][]Spec

// LoadPresets reads presets from a YAML file.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relation presets: %w", err)
	}
	p, err := ParsePresets(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePresets decodes and validates YAML presets. Unknown keys are rejected.
func ParsePresets(data []byte) (Presets, error) {
	var p Presets
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return Presets{}, nil
		}
		return nil, fmt.Errorf("failed to parse relation presets: %w", err)
	}
	for name, specs := range p {
		for _, s := range specs {
			if err := s.Validate(); err != nil {
				return nil, fmt.Errorf("preset %q: %w", name, err)
			}
		}
	}
	return p, nil
}

// Lookup returns the named tree.
func (p Presets) Lookup(name string) ([]Spec, error) {
	specs, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("unknown relation preset %q (have %v)", name, p.Names())
	}
	return specs, nil
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultPresets are the relation trees of the todo domain.
func DefaultPresets() Presets {
	subtasks := Spec{Target: "subtasks", Kind: OneToMany, LocalField: "taskId", ResultField: "subtasks"}
	tasks := Spec{Target: "tasks", Kind: OneToMany, LocalField: "todoId", ResultField: "tasks"}
	return Presets{
		"tasks": {tasks},
		"todoTree": {{
			Target: tasks.Target, Kind: tasks.Kind, LocalField: tasks.LocalField, ResultField: tasks.ResultField,
			Nested: []Spec{subtasks},
		}},
		"subtasks":   {subtasks},
		"categories": {{Target: "categories", Kind: ManyToOne, LocalField: "categoryIds", ResultField: "categories"}},
		"profile":    {{Target: "profiles", Kind: OneToOne, LocalField: "userId", ResultField: "profile"}},
	}
}
