package engine

import (
	"context"
	"errors"
	"testing"

	"detflow/internal/core"
	"detflow/internal/engineerr"
	"detflow/internal/eventlog"
	"detflow/internal/flowdef"
)

var wordSpec = core.ArtifactSpec[wordPayload]{Kind: "word"}

type wordPayload struct {
	Value string `json:"value"`
}

// emitStep is a literal core.StepDefinition (not a TypedStep adapter) so
// tests can control exactly what it returns per invocation.
type emitStep struct {
	id     string
	kind   core.StepKind
	params any
	run    func(ctx context.Context, ectx core.ExecutionContext) core.RunResult
}

func (s emitStep) ID() string         { return s.id }
func (s emitStep) Kind() core.StepKind { return s.kind }
func (s emitStep) BaseParams() any     { return s.params }
func (s emitStep) Run(ctx context.Context, ectx core.ExecutionContext) core.RunResult {
	return s.run(ctx, ectx)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewBuilder().WithEventStore(eventlog.NewMemoryStore()).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return eng
}

// twoStepDef builds a Source step that always emits "hello" and a Sink
// step that appends "-sunk" to its input, matching scenario S1.
func twoStepDef(t *testing.T) flowdef.Definition {
	t.Helper()
	source := emitStep{
		id:   "emit",
		kind: core.Source,
		params: map[string]any{},
		run: func(_ context.Context, ectx core.ExecutionContext) core.RunResult {
			return core.Ok(sealWordFromCtx(ectx, "hello"))
		},
	}
	sink := emitStep{
		id:   "sink",
		kind: core.Sink,
		params: map[string]any{},
		run: func(_ context.Context, ectx core.ExecutionContext) core.RunResult {
			in, err := wordSpec.Decode(*ectx.Input)
			if err != nil {
				return core.Fail(err)
			}
			a, err := wordSpec.Encode(wordPayload{Value: in.Value + "-sunk"}, nil)
			if err != nil {
				return core.Fail(err)
			}
			return core.Ok(a)
		},
	}
	def, err := flowdef.NewBuilder(source).Then(sink).Build()
	if err != nil {
		t.Fatalf("build def: %v", err)
	}
	return def
}

func sealWordFromCtx(_ core.ExecutionContext, value string) core.Artifact {
	a, _ := wordSpec.Encode(wordPayload{Value: value}, nil)
	return a
}

// TestTick_TwoStepPipelineRunsToCompletion is S1: a deterministic two-step
// pipeline run to completion leaves the flow Completed with the sink slot
// FinishedOk.
func TestTick_TwoStepPipelineRunsToCompletion(t *testing.T) {
	eng := newTestEngine(t)
	def := twoStepDef(t)
	ctx := context.Background()
	flowID := NewFlowID()

	if err := eng.RunToCompletion(ctx, flowID, def); err != nil {
		t.Fatalf("run to completion: %v", err)
	}

	instance, err := eng.load(ctx, flowID, def)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !instance.Completed {
		t.Fatal("expected flow to be completed")
	}
	if instance.Slots[1].Status != flowdef.FinishedOk {
		t.Errorf("expected sink slot FinishedOk, got %s", instance.Slots[1].Status)
	}
}

// TestTick_FailureStopsCursorOnFailedSlot matches the portion of S5 before
// a retry is scheduled: a failing step halts the flow with ErrFlowHasFailed
// returned on the next tick.
func TestTick_FailureStopsCursorOnFailedSlot(t *testing.T) {
	eng := newTestEngine(t)
	boom := errors.New("boom")
	source := emitStep{id: "s1", kind: core.Source, params: map[string]any{}, run: func(_ context.Context, _ core.ExecutionContext) core.RunResult {
		return core.Fail(boom)
	}}
	def, err := flowdef.NewBuilder(source).Build()
	if err != nil {
		t.Fatalf("build def: %v", err)
	}
	ctx := context.Background()
	flowID := NewFlowID()

	err = eng.Tick(ctx, flowID, def)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the step's own error, got %v", err)
	}

	err = eng.Tick(ctx, flowID, def)
	if !errors.Is(err, engineerr.ErrFlowHasFailed) {
		t.Fatalf("expected ErrFlowHasFailed on the next tick, got %v", err)
	}
}

// TestScheduleRetry_ReExecutesAfterMatchingRetryCount is S5 with k = 1:
// one failure followed by one RetryScheduled lets the step run again and
// finish.
func TestScheduleRetry_ReExecutesAfterMatchingRetryCount(t *testing.T) {
	eng := newTestEngine(t)
	attempt := 0
	source := emitStep{id: "s1", kind: core.Source, params: map[string]any{}, run: func(_ context.Context, ectx core.ExecutionContext) core.RunResult {
		attempt++
		if attempt == 1 {
			return core.Fail(errors.New("transient"))
		}
		return core.Ok(sealWordFromCtx(ectx, "recovered"))
	}}
	def, err := flowdef.NewBuilder(source).Build()
	if err != nil {
		t.Fatalf("build def: %v", err)
	}
	ctx := context.Background()
	flowID := NewFlowID()

	if err := eng.Tick(ctx, flowID, def); err == nil {
		t.Fatal("expected the first tick to fail")
	}

	if err := eng.ScheduleRetry(ctx, flowID, def, "s1", "transient", 3); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}

	if err := eng.Tick(ctx, flowID, def); err != nil {
		t.Fatalf("expected retry tick to succeed, got %v", err)
	}

	instance, err := eng.load(ctx, flowID, def)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if instance.Slots[0].Status != flowdef.FinishedOk {
		t.Errorf("expected slot 0 FinishedOk after retry, got %s", instance.Slots[0].Status)
	}
}

// TestScheduleRetry_RejectsWhenSlotIsNotFailed matches the error-taxonomy
// guard on ScheduleRetry: it is only valid against a Failed slot.
func TestScheduleRetry_RejectsWhenSlotIsNotFailed(t *testing.T) {
	eng := newTestEngine(t)
	def := twoStepDef(t)
	ctx := context.Background()
	flowID := NewFlowID()

	err := eng.ScheduleRetry(ctx, flowID, def, "emit", "no failure yet", 3)
	var retryErr *engineerr.RetryNotAllowed
	if !errors.As(err, &retryErr) {
		t.Fatalf("expected RetryNotAllowed, got %v", err)
	}
}

// gatedDef builds a one-step definition whose Source step's params
// declare requires_human_input, echoing provided.answer if present.
func gatedDef(t *testing.T) flowdef.Definition {
	t.Helper()
	step := emitStep{
		id:   "gate",
		kind: core.Source,
		params: map[string]any{"requires_human_input": true},
		run: func(_ context.Context, ectx core.ExecutionContext) core.RunResult {
			m, _ := ectx.Params.(map[string]any)
			answer, _ := m["answer"].(string)
			return core.Ok(sealWordFromCtx(ectx, answer))
		},
	}
	def, err := flowdef.NewBuilder(step).Build()
	if err != nil {
		t.Fatalf("build def: %v", err)
	}
	return def
}

// TestTick_HumanGateRequestsThenResumes is S3: a gated step halts with no
// error and no StepStarted until ResumeUserInput supplies the answer.
func TestTick_HumanGateRequestsThenResumes(t *testing.T) {
	eng := newTestEngine(t)
	def := gatedDef(t)
	ctx := context.Background()
	flowID := NewFlowID()

	if err := eng.Tick(ctx, flowID, def); err != nil {
		t.Fatalf("expected the gate tick to be a no-op, got %v", err)
	}
	instance, err := eng.load(ctx, flowID, def)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if instance.Slots[0].Status != flowdef.AwaitingUserInput {
		t.Fatalf("expected AwaitingUserInput, got %s", instance.Slots[0].Status)
	}

	if err := eng.ResumeUserInput(ctx, flowID, def, "gate", map[string]any{"answer": "42"}); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if err := eng.Tick(ctx, flowID, def); err != nil {
		t.Fatalf("expected resumed tick to succeed, got %v", err)
	}
	instance, err = eng.load(ctx, flowID, def)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if instance.Slots[0].Status != flowdef.FinishedOk {
		t.Errorf("expected FinishedOk after resume, got %s", instance.Slots[0].Status)
	}
}

// TestResumeUserInput_RejectsWhenSlotNotAwaiting guards the control
// extension's own precondition.
func TestResumeUserInput_RejectsWhenSlotNotAwaiting(t *testing.T) {
	eng := newTestEngine(t)
	def := twoStepDef(t)
	ctx := context.Background()
	flowID := NewFlowID()

	err := eng.ResumeUserInput(ctx, flowID, def, "emit", map[string]any{"x": 1})
	var transErr *engineerr.InvalidTransition
	if !errors.As(err, &transErr) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
}

// TestBranch_CopiesMatchingPrefixWhenDefinitionUnchanged is S2: branching
// from a finished step under an unchanged definition carries the parent's
// prior events forward so the branch starts past the divergence point.
func TestBranch_CopiesMatchingPrefixWhenDefinitionUnchanged(t *testing.T) {
	eng := newTestEngine(t)
	def := twoStepDef(t)
	ctx := context.Background()
	parentID := NewFlowID()

	if err := eng.Tick(ctx, parentID, def); err != nil {
		t.Fatalf("tick 1: %v", err)
	}

	branchID, err := eng.Branch(ctx, parentID, def, "emit", "")
	if err != nil {
		t.Fatalf("branch: %v", err)
	}

	branchInstance, err := eng.load(ctx, branchID, def)
	if err != nil {
		t.Fatalf("load branch: %v", err)
	}
	if branchInstance.Slots[0].Status != flowdef.FinishedOk {
		t.Fatalf("expected the branch to inherit the finished first slot, got %s", branchInstance.Slots[0].Status)
	}
	if branchInstance.Cursor != 1 {
		t.Errorf("expected branch cursor to resume at the sink step, got %d", branchInstance.Cursor)
	}
}

// TestBranch_FailsWhenStepNeverFinished: branching from a step id that
// never produced a StepFinished event is rejected before any artifact
// check even runs.
func TestBranch_FailsWhenStepNeverFinished(t *testing.T) {
	eng := newTestEngine(t)
	def := twoStepDef(t)
	ctx := context.Background()
	parentID := NewFlowID()

	_, err := eng.Branch(ctx, parentID, def, "sink", "")
	if !errors.Is(err, engineerr.ErrInvalidBranchSource) {
		t.Fatalf("expected ErrInvalidBranchSource, got %v", err)
	}
}

// TestBranch_FailsOnMissingArtifact is S4: a parent flow whose StepFinished
// names an output hash that was never stored via StoreArtifact causes
// Branch to fail with StorageError, and no BranchCreated event reaches the
// parent. The parent's StepFinished is appended by hand (rather than via a
// normal Tick, which always seals and stores its own outputs) specifically
// to produce this otherwise-unreachable inconsistency.
func TestBranch_FailsOnMissingArtifact(t *testing.T) {
	eng := newTestEngine(t)
	def := twoStepDef(t)
	ctx := context.Background()
	parentID := NewFlowID()

	if _, err := eng.store.Append(ctx, parentID, eventlog.KindFlowInitialized, eventlog.FlowInitializedPayload{
		DefinitionHash: def.DefinitionHash,
		StepCount:      len(def.Steps),
	}); err != nil {
		t.Fatalf("append FlowInitialized: %v", err)
	}
	if _, err := eng.store.Append(ctx, parentID, eventlog.KindStepFinished, eventlog.StepFinishedPayload{
		StepIndex:   0,
		StepID:      "emit",
		Outputs:     []string{"sha256:neverstored"},
		Fingerprint: "irrelevant",
	}); err != nil {
		t.Fatalf("append StepFinished: %v", err)
	}

	_, err := eng.Branch(ctx, parentID, def, "emit", "")
	var storageErr *engineerr.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *engineerr.StorageError, got %v", err)
	}

	events, err := eng.store.List(ctx, parentID)
	if err != nil {
		t.Fatalf("list parent events: %v", err)
	}
	for _, ev := range events {
		if ev.Kind == eventlog.KindBranchCreated {
			t.Error("expected no BranchCreated event on the parent after a failed branch")
		}
	}
}

// TestBranch_AppendsBranchCreatedOnParent verifies lineage is recorded on
// the parent flow, not the branch.
func TestBranch_AppendsBranchCreatedOnParent(t *testing.T) {
	eng := newTestEngine(t)
	def := twoStepDef(t)
	ctx := context.Background()
	parentID := NewFlowID()

	if err := eng.Tick(ctx, parentID, def); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, err := eng.Branch(ctx, parentID, def, "emit", "paramhash123"); err != nil {
		t.Fatalf("branch: %v", err)
	}

	events, err := eng.store.List(ctx, parentID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Kind == eventlog.KindBranchCreated {
			found = true
		}
	}
	if !found {
		t.Error("expected a BranchCreated event on the parent flow")
	}
}

// TestReservedSignal_TranslatesToTypedEvent is S6: a step emitting the
// PROPERTY_PREFERENCE_ASSIGNED signal causes a typed
// PropertyPreferenceAssigned event to be appended alongside the raw
// StepSignal event.
func TestReservedSignal_TranslatesToTypedEvent(t *testing.T) {
	eng := newTestEngine(t)
	source := emitStep{
		id:   "s1",
		kind: core.Source,
		params: map[string]any{},
		run: func(_ context.Context, ectx core.ExecutionContext) core.RunResult {
			return core.OkWithSignals(
				[]core.Artifact{sealWordFromCtx(ectx, "v")},
				[]core.Signal{{
					Name: ReservedSignalPropertyPreferenceAssigned,
					Data: map[string]any{
						"property_key": "ui.theme",
						"policy_id":    "policy-1",
						"params_hash":  "hash-1",
						"rationale":    "user chose dark mode",
					},
				}},
			)
		},
	}
	def, err := flowdef.NewBuilder(source).Build()
	if err != nil {
		t.Fatalf("build def: %v", err)
	}
	ctx := context.Background()
	flowID := NewFlowID()

	if err := eng.Tick(ctx, flowID, def); err != nil {
		t.Fatalf("tick: %v", err)
	}

	events, err := eng.store.List(ctx, flowID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var found eventlog.PropertyPreferenceAssignedPayload
	ok := false
	for _, ev := range events {
		if ev.Kind == eventlog.KindPropertyPreferenceAssigned {
			p, err := eventlog.DecodePayload[eventlog.PropertyPreferenceAssignedPayload](ev.Payload)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			found = p
			ok = true
		}
	}
	if !ok {
		t.Fatal("expected a PropertyPreferenceAssigned event")
	}
	if found.PropertyKey != "ui.theme" || found.PolicyID != "policy-1" {
		t.Errorf("unexpected translated payload: %+v", found)
	}
}

// TestTick_IsIdempotentOnceFlowCompleted re-ticking a completed flow
// returns ErrFlowCompleted rather than re-running any step.
func TestTick_IsIdempotentOnceFlowCompleted(t *testing.T) {
	eng := newTestEngine(t)
	def := twoStepDef(t)
	ctx := context.Background()
	flowID := NewFlowID()

	if err := eng.RunToCompletion(ctx, flowID, def); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := eng.Tick(ctx, flowID, def); !errors.Is(err, engineerr.ErrFlowCompleted) {
		t.Fatalf("expected ErrFlowCompleted, got %v", err)
	}
}
