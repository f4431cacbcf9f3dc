package engine

import (
	"context"

	"detflow/internal/core"
	"detflow/internal/engineerr"
	"detflow/internal/eventlog"
	"detflow/internal/flowdef"
)

// Branch creates a new flow, branchID, forked from parentID at the step
// identified by fromStepID, per §4.8:
//
//  1. Locate the last StepFinished in parentID matching fromStepID. If
//     none exists, fail with InvalidBranchSource.
//  2. Mint a new branch id and append a fresh FlowInitialized under it
//     (always, even if the branch's definition hash matches the
//     parent's).
//  3. If the branch's definition hash equals the parent's, copy the
//     parent's events strictly between its FlowInitialized and the
//     matched StepFinished (inclusive) into the branch, verifying every
//     copied StepFinished's output hashes are present in the artifact
//     store.
//  4. Append BranchCreated under the PARENT to record lineage.
func (e *Engine) Branch(ctx context.Context, parentID string, def flowdef.Definition, fromStepID string, divergenceParamsHash string) (string, error) {
	parentEvents, err := e.store.List(ctx, parentID)
	if err != nil {
		return "", &engineerr.StorageError{Msg: err.Error()}
	}

	matchIdx, matchPos, ok := lastMatchingStepFinished(parentEvents, fromStepID)
	if !ok {
		return "", engineerr.ErrInvalidBranchSource
	}

	branchID := NewFlowID()

	if _, err := e.append(ctx, branchID, eventlog.KindFlowInitialized, eventlog.FlowInitializedPayload{
		DefinitionHash: def.DefinitionHash,
		StepCount:      len(def.Steps),
	}); err != nil {
		return "", err
	}

	parentDefHash := parentDefinitionHash(parentEvents)
	if parentDefHash == def.DefinitionHash {
		if err := e.copyBranchPrefix(ctx, branchID, parentEvents, matchPos); err != nil {
			return "", err
		}
	}

	var divHashPtr *string
	if divergenceParamsHash != "" {
		divHashPtr = &divergenceParamsHash
	}
	if _, err := e.append(ctx, parentID, eventlog.KindBranchCreated, eventlog.BranchCreatedPayload{
		BranchID:             branchID,
		ParentFlowID:         parentID,
		RootFlowID:           parentID,
		CreatedFromStepID:    fromStepID,
		DivergenceParamsHash: divHashPtr,
	}); err != nil {
		return "", err
	}

	e.obs.metrics.Counter(MetricBranchesCreatedTotal).Inc()
	e.obs.emit(ctx, EventBranchCreated, LifecycleEvent{FlowID: parentID, StepID: fromStepID, StepIndex: matchIdx})

	return branchID, nil
}

// copyBranchPrefix copies parentEvents[afterInit+1 .. matchPos] (the
// events strictly after FlowInitialized, up to and including the
// matched StepFinished) into branchID, verifying every StepFinished's
// output hashes exist in the artifact store.
func (e *Engine) copyBranchPrefix(ctx context.Context, branchID string, parentEvents []eventlog.Event, matchPos int) error {
	start := 0
	for i, ev := range parentEvents {
		if ev.Kind == eventlog.KindFlowInitialized {
			start = i + 1
			break
		}
	}

	for i := start; i <= matchPos; i++ {
		ev := parentEvents[i]
		if ev.Kind == eventlog.KindStepFinished {
			p, err := eventlog.DecodePayload[eventlog.StepFinishedPayload](ev.Payload)
			if err != nil {
				return &engineerr.Internal{Msg: err.Error()}
			}
			for _, hash := range p.Outputs {
				if _, ok := e.artifacts.get(hash); !ok {
					return &engineerr.StorageError{Msg: "missing artifact " + hash + " during branch copy"}
				}
			}
		}
		if _, err := e.append(ctx, branchID, ev.Kind, ev.Payload); err != nil {
			return err
		}
	}
	return nil
}

func lastMatchingStepFinished(events []eventlog.Event, stepID string) (stepIndex int, pos int, ok bool) {
	for i, ev := range events {
		if ev.Kind != eventlog.KindStepFinished {
			continue
		}
		p, err := eventlog.DecodePayload[eventlog.StepFinishedPayload](ev.Payload)
		if err != nil || p.StepID != stepID {
			continue
		}
		stepIndex, pos, ok = p.StepIndex, i, true
	}
	return stepIndex, pos, ok
}

func parentDefinitionHash(events []eventlog.Event) string {
	for _, ev := range events {
		if ev.Kind == eventlog.KindFlowInitialized {
			p, err := eventlog.DecodePayload[eventlog.FlowInitializedPayload](ev.Payload)
			if err == nil {
				return p.DefinitionHash
			}
		}
	}
	return ""
}

// BranchBuilder offers the ergonomic branch-then-continue API described
// as a supplemented feature: a short-lived handle over the engine that
// collects a branch's follow-up operations without exposing the event
// store directly.
type BranchBuilder struct {
	engine   *Engine
	parentID string
	def      flowdef.Definition
	fromStep string
	divHash  string
	branchID string
}

// NewBranchBuilder starts a branch build from parentID against def.
func NewBranchBuilder(engine *Engine, parentID string, def flowdef.Definition) *BranchBuilder {
	return &BranchBuilder{engine: engine, parentID: parentID, def: def}
}

// FromStepID sets the branch point by step id.
func (b *BranchBuilder) FromStepID(stepID string) *BranchBuilder {
	b.fromStep = stepID
	return b
}

// FromIndex sets the branch point by step index, resolved against def.
func (b *BranchBuilder) FromIndex(i int) *BranchBuilder {
	if i >= 0 && i < len(b.def.Steps) {
		b.fromStep = b.def.Steps[i].ID()
	}
	return b
}

// WithDivergenceParamsHash records the hash of the params that will
// diverge on the branch, carried on BranchCreated for audit purposes.
func (b *BranchBuilder) WithDivergenceParamsHash(hash string) *BranchBuilder {
	b.divHash = hash
	return b
}

// Create performs the branch and returns the new flow id. Subsequent
// OverrideStepParams/Step/RunToCompletion calls on this builder operate on
// the branch this returns.
func (b *BranchBuilder) Create(ctx context.Context) (string, error) {
	branchID, err := b.engine.Branch(ctx, b.parentID, b.def, b.fromStep, b.divHash)
	if err != nil {
		return "", err
	}
	b.branchID = branchID
	return branchID, nil
}

// StoreArtifact exposes the engine's artifact cache to callers building
// a branch's continuation without reaching into engine internals.
func (b *BranchBuilder) StoreArtifact(a core.Artifact) {
	b.engine.StoreArtifact(a)
}

// OverrideStepParams records a params override for stepID on the branch by
// appending a StepSignal{signal: "params_override"} event, so the override
// is visible in the branch's own event trail rather than mutating the
// definition in place. Create must have been called first.
func (b *BranchBuilder) OverrideStepParams(ctx context.Context, stepID string, params any) error {
	if b.branchID == "" {
		return &engineerr.Internal{Msg: "branch: OverrideStepParams called before Create"}
	}
	idx := b.def.IndexOf(stepID)
	if idx < 0 {
		return &engineerr.Internal{Msg: "branch: unknown step id " + stepID}
	}
	_, err := b.engine.append(ctx, b.branchID, eventlog.KindStepSignal, eventlog.StepSignalPayload{
		StepIndex: idx,
		StepID:    stepID,
		Signal:    "params_override",
		Data:      params,
	})
	return err
}

// Step advances the branch by a single tick. Create must have been called
// first.
func (b *BranchBuilder) Step(ctx context.Context) error {
	if b.branchID == "" {
		return &engineerr.Internal{Msg: "branch: Step called before Create"}
	}
	return b.engine.Tick(ctx, b.branchID, b.def)
}

// RunToCompletion drives the branch forward until it completes. Create
// must have been called first.
func (b *BranchBuilder) RunToCompletion(ctx context.Context) error {
	if b.branchID == "" {
		return &engineerr.Internal{Msg: "branch: RunToCompletion called before Create"}
	}
	return b.engine.RunToCompletion(ctx, b.branchID, b.def)
}
