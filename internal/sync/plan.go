package sync

import (
	"fmt"

	"github.com/docsync/docsync/internal/record"
)

// Step syncs one table.
//
// A root step (Parent == "") selects rows whose Field equals the owner id.
// A child step selects rows whose Field is one of the ids fetched from the
// Parent step's source table in the same run.
type Step struct {
	Table  string `yaml:"table" mapstructure:"table"`
	Field  string `yaml:"field" mapstructure:"field"`
	Parent string `yaml:"parent,omitempty" mapstructure:"parent"`
}

// Plan is the ordered list of steps of a sync run. Parents precede children.
type Plan []Step

// DefaultPlan is the table order of the todo domain: the owner's todos, their
// tasks and subtasks, then the independent owner tables.
func DefaultPlan() Plan {
	return Plan{
		{Table: "todos", Field: "userId"},
		{Table: "tasks", Field: "todoId", Parent: "todos"},
		{Table: "subtasks", Field: "taskId", Parent: "tasks"},
		{Table: "categories", Field: "userId"},
		{Table: "profiles", Field: "userId"},
	}
}

// Validate checks table names and that every parent is an earlier step.
func (p Plan) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("sync plan is empty")
	}
	seen := make(map[string]bool, len(p))
	for i, step := range p {
		if err := record.ValidateTable(step.Table); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if step.Field == "" {
			return fmt.Errorf("step %d (%s): field is required", i, step.Table)
		}
		if seen[step.Table] {
			return fmt.Errorf("step %d: table %s appears twice", i, step.Table)
		}
		if step.Parent != "" && !seen[step.Parent] {
			return fmt.Errorf("step %d (%s): parent %s must come earlier in the plan", i, step.Table, step.Parent)
		}
		seen[step.Table] = true
	}
	return nil
}

// Tables returns the step tables in order.
func (p Plan) Tables() []string {
	out := make([]string, len(p))
	for i, s := range p {
		out[i] = s.Table
	}
	return out
}
