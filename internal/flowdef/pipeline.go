package flowdef

import (
	"fmt"

	"detflow/internal/core"
)

// Builder assembles a Definition incrementally, rejecting shape errors at
// construction time rather than at replay. Runtime replay never depends
// on this check succeeding; it exists purely as a developer aid. Go has no
// blanket trait bound to enforce step-to-step type agreement at compile
// time, so the check is a construction-time one instead.
type Builder struct {
	steps []core.StepDefinition
	err   error
}

// NewBuilder starts a pipeline with its first step, which must be a
// Source and therefore never consumes an input.
func NewBuilder(first core.StepDefinition) *Builder {
	b := &Builder{}
	if first.Kind() != core.Source {
		b.err = fmt.Errorf("flowdef: first step %q must be Source, got %s", first.ID(), first.Kind())
		return b
	}
	b.steps = []core.StepDefinition{first}
	return b
}

// Then appends the next step. Go generics cannot express "this step's
// Input type equals the previous step's Output type" as a static bound
// across an interface-typed slice, so that check is deferred to TypedThen
// below for callers who have the concrete typed steps in hand; Then itself
// only enforces id uniqueness and non-Source-after-first ordering.
func (b *Builder) Then(next core.StepDefinition) *Builder {
	if b.err != nil {
		return b
	}
	if next.Kind() == core.Source {
		b.err = fmt.Errorf("flowdef: step %q is Source but is not the first step", next.ID())
		return b
	}
	for _, s := range b.steps {
		if s.ID() == next.ID() {
			b.err = fmt.Errorf("flowdef: duplicate step id %q", next.ID())
			return b
		}
	}
	b.steps = append(b.steps, next)
	return b
}

// Build finalises the pipeline into an immutable Definition.
func (b *Builder) Build() (Definition, error) {
	if b.err != nil {
		return Definition{}, b.err
	}
	return BuildDefinition(b.steps)
}

// TypedThen is a construction-time assertion that N's declared Input type
// matches Prev's declared Output type, enforced through a shared generic
// type parameter rather than a runtime check. It is a free function (not a
// Builder method) because it operates on the concrete TypedStep types
// before they are erased into the neutral StepDefinition interface.
func TypedThen[PrevP, PrevI, Shared, NextP, NextO any](
	b *Builder,
	prev core.TypedStep[PrevP, PrevI, Shared],
	next core.TypedStep[NextP, Shared, NextO],
) *Builder {
	// The shared type parameter Shared being usable as both prev's Output
	// and next's Input is enforced by the caller's instantiation of this
	// function succeeding to compile at all: if the two steps disagree on
	// the type flowing between them, the call site fails to type-check.
	return b.Then(core.Adapt[NextP, Shared, NextO](next))
}
