// Package flowdef defines a flow's shape (its ordered step list and
// definition hash) and the replay function that derives a FlowInstance
// from an event list.
package flowdef

import (
	"fmt"

	"detflow/internal/core"
)

// Definition is the ordered sequence of steps a flow executes, plus the
// hash that identifies its shape. It is immutable after construction.
type Definition struct {
	Steps          []core.StepDefinition
	DefinitionHash string
}

// BuildDefinition computes DefinitionHash = HashValue([step.ID() for
// step in steps]) and returns the resulting immutable Definition. Two
// definitions with identical id sequences produce identical hashes.
func BuildDefinition(steps []core.StepDefinition) (Definition, error) {
	ids := make([]any, len(steps))
	for i, s := range steps {
		ids[i] = s.ID()
	}
	h, err := core.HashValue(ids)
	if err != nil {
		return Definition{}, fmt.Errorf("flowdef: build definition: %w", err)
	}
	return Definition{Steps: steps, DefinitionHash: h}, nil
}

// StepIDs returns the ordered list of step ids, the canonical way to
// compare two definitions' shapes without recomputing a hash.
func (d Definition) StepIDs() []string {
	ids := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		ids[i] = s.ID()
	}
	return ids
}

// IndexOf returns the position of the step with the given id, or -1.
func (d Definition) IndexOf(stepID string) int {
	for i, s := range d.Steps {
		if s.ID() == stepID {
			return i
		}
	}
	return -1
}
