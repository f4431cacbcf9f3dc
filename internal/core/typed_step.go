package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrInputRequired is returned by the typed-step adapter when a non-Source
// step is invoked without an input artifact.
var ErrInputRequired = errors.New("core: step requires an input artifact")

// TypedResult is the typed equivalent of RunResult: a TypedStep returns
// its outputs as native Go values, and the adapter re-encodes them into
// neutral artifacts.
type TypedResult[O any] struct {
	Outputs []O
	Signals []Signal
	Err     error
}

// TypedOk builds a typed success result.
func TypedOk[O any](outputs ...O) TypedResult[O] {
	return TypedResult[O]{Outputs: outputs}
}

// TypedOkWithSignals builds a typed success result carrying signals.
func TypedOkWithSignals[O any](outputs []O, signals []Signal) TypedResult[O] {
	return TypedResult[O]{Outputs: outputs, Signals: signals}
}

// TypedFail builds a typed failure result.
func TypedFail[O any](err error) TypedResult[O] {
	return TypedResult[O]{Err: err}
}

// TypedStep is the author-facing contract: steps are written against
// concrete Go types for parameters, input and output, and the adapter
// (Adapt) decodes/encodes against the neutral StepDefinition contract on
// their behalf. Go has no blanket generic implementation of an interface,
// so this explicit adapter stands in for what a language with associated
// types could express as a single generic impl.
type TypedStep[P any, I any, O any] interface {
	ID() string
	Kind() StepKind
	DefaultParams() P
	InputSpec() ArtifactSpec[I]
	OutputSpec() ArtifactSpec[O]
	RunTyped(ctx context.Context, input *I, params P) TypedResult[O]
}

// typedAdapter wraps a TypedStep so it satisfies StepDefinition.
type typedAdapter[P any, I any, O any] struct {
	inner TypedStep[P, I, O]
}

// Adapt returns a StepDefinition backed by a TypedStep.
func Adapt[P any, I any, O any](ts TypedStep[P, I, O]) StepDefinition {
	return typedAdapter[P, I, O]{inner: ts}
}

func (a typedAdapter[P, I, O]) ID() string     { return a.inner.ID() }
func (a typedAdapter[P, I, O]) Kind() StepKind { return a.inner.Kind() }

func (a typedAdapter[P, I, O]) BaseParams() any {
	return a.inner.DefaultParams()
}

func (a typedAdapter[P, I, O]) Run(ctx context.Context, ectx ExecutionContext) RunResult {
	params, err := decodeParams[P](ectx.Params, a.inner.DefaultParams())
	if err != nil {
		return Fail(fmt.Errorf("core: decode params for step %q: %w", a.inner.ID(), err))
	}

	var input *I
	if ectx.Input != nil {
		decoded, err := a.inner.InputSpec().Decode(*ectx.Input)
		if err != nil {
			return Fail(fmt.Errorf("core: decode input for step %q: %w", a.inner.ID(), err))
		}
		input = &decoded
	} else if a.inner.Kind() != Source {
		return Fail(fmt.Errorf("core: step %q: %w", a.inner.ID(), ErrInputRequired))
	}

	result := a.inner.RunTyped(ctx, input, params)
	if result.Err != nil {
		return Fail(result.Err)
	}

	outputs := make([]Artifact, 0, len(result.Outputs))
	for _, o := range result.Outputs {
		encoded, err := a.inner.OutputSpec().Encode(o, nil)
		if err != nil {
			return Fail(fmt.Errorf("core: encode output for step %q: %w", a.inner.ID(), err))
		}
		outputs = append(outputs, encoded)
	}
	return OkWithSignals(outputs, result.Signals)
}

// decodeParams decodes raw (the effective params JSON value) into P,
// falling back to defaultParams if raw is nil or fails to decode.
func decodeParams[P any](raw any, defaultParams P) (P, error) {
	if raw == nil {
		return defaultParams, nil
	}
	m, err := toJSONMap(raw)
	if err != nil {
		return defaultParams, nil
	}
	out, err := fromJSONMap[P](m)
	if err != nil {
		return defaultParams, nil
	}
	return out, nil
}
