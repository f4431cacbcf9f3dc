package core

import (
	"context"
	"fmt"
)

// StepKind classifies a step's position in the pipeline. The first step
// of a definition MUST be Source and MUST NOT require an input; every
// later step consumes the single output artifact of its predecessor.
type StepKind string

const (
	Source    StepKind = "source"
	Transform StepKind = "transform"
	Sink      StepKind = "sink"
	Check     StepKind = "check"
)

// Signal is an advisory, named event a step may emit alongside its
// outputs. Some names are reserved and translated into typed events by
// the scheduler (see internal/engine/control.go).
type Signal struct {
	Name string `json:"signal"`
	Data any    `json:"data,omitempty"`
}

// RunResult is the outcome of invoking a step. Exactly one of the three
// constructors below should be used to build a value; Failure takes
// priority if both Err and Outputs are somehow set.
type RunResult struct {
	Outputs []Artifact
	Signals []Signal
	Err     error
}

// Ok builds a plain success result.
func Ok(outputs ...Artifact) RunResult {
	return RunResult{Outputs: outputs}
}

// OkWithSignals builds a success result carrying advisory signals.
func OkWithSignals(outputs []Artifact, signals []Signal) RunResult {
	return RunResult{Outputs: outputs, Signals: signals}
}

// Fail builds a failure result.
func Fail(err error) RunResult {
	return RunResult{Err: err}
}

// Failed reports whether this result represents a step failure.
func (r RunResult) Failed() bool { return r.Err != nil }

// ExecutionContext is passed to every step invocation.
type ExecutionContext struct {
	// Input is absent only for the first step of a definition.
	Input *Artifact
	// Params is the fully merged, effective parameter object for this
	// invocation (see the injection pipeline).
	Params any
}

// StepDefinition is the neutral, engine-visible contract every step
// implements, whether authored directly or adapted from a TypedStep.
type StepDefinition interface {
	// ID is a stable identifier, unique within a definition.
	ID() string
	// Kind classifies the step.
	Kind() StepKind
	// BaseParams returns the step's declared default parameters, prior
	// to any injection overlay.
	BaseParams() any
	// Run executes the step. Implementations must be pure given
	// (ctx.Input, ctx.Params): no wall-clock reads, no unseeded
	// randomness, no external I/O unless the source is itself
	// content-addressed.
	Run(ctx context.Context, ectx ExecutionContext) RunResult
}

// stepDefinitionHashInput documents the exact shape hashed into a step's
// own definition hash, distinct from a flow's DefinitionHash: it
// identifies one step's declared shape, not the whole pipeline's.
type stepDefinitionHashInput struct {
	ID         string   `json:"id"`
	Kind       StepKind `json:"kind"`
	BaseParams any      `json:"base_params"`
	Type       string   `json:"type"`
}

// StepDefinitionHash hashes step's declared identity: its id, kind, base
// params and concrete Go type. Two StepDefinition values with the same id
// but different underlying types (or different base params) hash
// differently, which is what lets a failure fingerprint detect that a step
// was redefined between failure and retry.
func StepDefinitionHash(step StepDefinition) (string, error) {
	return HashValue(stepDefinitionHashInput{
		ID:         step.ID(),
		Kind:       step.Kind(),
		BaseParams: step.BaseParams(),
		Type:       fmt.Sprintf("%T", step),
	})
}
