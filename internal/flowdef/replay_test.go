package flowdef

import (
	"context"
	"testing"

	"detflow/internal/core"
	"detflow/internal/eventlog"
)

// fakeStep is a minimal core.StepDefinition used wherever a test needs a
// Definition's shape but never actually invokes Run.
type fakeStep struct {
	id   string
	kind core.StepKind
}

func (s fakeStep) ID() string         { return s.id }
func (s fakeStep) Kind() core.StepKind { return s.kind }
func (s fakeStep) BaseParams() any    { return map[string]any{} }
func (s fakeStep) Run(_ context.Context, _ core.ExecutionContext) core.RunResult {
	return core.Ok()
}

func threeStepDef(t *testing.T) Definition {
	t.Helper()
	steps := []core.StepDefinition{
		fakeStep{id: "s1", kind: core.Source},
		fakeStep{id: "s2", kind: core.Transform},
		fakeStep{id: "s3", kind: core.Sink},
	}
	def, err := BuildDefinition(steps)
	if err != nil {
		t.Fatalf("build definition: %v", err)
	}
	return def
}

// TestReplay_Empty verifies a fresh flow (FlowInitialized only) starts
// with cursor 0 and every slot Pending.
func TestReplay_Empty(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Seq: 0, Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
	}

	inst, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inst.Cursor != 0 {
		t.Errorf("expected cursor 0, got %d", inst.Cursor)
	}
	for i, s := range inst.Slots {
		if s.Status != Pending {
			t.Errorf("slot %d: expected Pending, got %s", i, s.Status)
		}
	}
}

// TestReplay_LinearProgression verifies the cursor advances past a
// finished step and that the slot records its output hashes.
func TestReplay_LinearProgression(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
		{Kind: eventlog.KindStepStarted, Payload: eventlog.StepStartedPayload{StepIndex: 0, StepID: "s1"}},
		{Kind: eventlog.KindStepFinished, Payload: eventlog.StepFinishedPayload{StepIndex: 0, StepID: "s1", Outputs: []string{"h1"}, Fingerprint: "fp1"}},
	}

	inst, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inst.Cursor != 1 {
		t.Errorf("expected cursor 1, got %d", inst.Cursor)
	}
	if inst.Slots[0].Status != FinishedOk {
		t.Errorf("expected slot 0 FinishedOk, got %s", inst.Slots[0].Status)
	}
	if len(inst.Slots[0].OutputHashes) != 1 || inst.Slots[0].OutputHashes[0] != "h1" {
		t.Errorf("expected output hashes [h1], got %v", inst.Slots[0].OutputHashes)
	}
}

// TestReplay_FailedSlotBecomesCursor verifies the cursor lands ON a
// Failed slot rather than skipping past it (DESIGN.md open question 7).
func TestReplay_FailedSlotBecomesCursor(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
		{Kind: eventlog.KindStepStarted, Payload: eventlog.StepStartedPayload{StepIndex: 0, StepID: "s1"}},
		{Kind: eventlog.KindStepFailed, Payload: eventlog.StepFailedPayload{StepIndex: 0, StepID: "s1", Error: "boom", Fingerprint: "ffp"}},
	}

	inst, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inst.Cursor != 0 {
		t.Errorf("expected cursor to remain on the failed slot (0), got %d", inst.Cursor)
	}
	if inst.Slots[0].Status != Failed {
		t.Errorf("expected slot 0 Failed, got %s", inst.Slots[0].Status)
	}
}

// TestReplay_RetryScheduledReopensFailedSlot verifies the bookkeeping
// rule: scheduled >= failed for a step means its slot reverts to Pending.
func TestReplay_RetryScheduledReopensFailedSlot(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
		{Kind: eventlog.KindStepStarted, Payload: eventlog.StepStartedPayload{StepIndex: 0, StepID: "s1"}},
		{Kind: eventlog.KindStepFailed, Payload: eventlog.StepFailedPayload{StepIndex: 0, StepID: "s1", Error: "boom", Fingerprint: "ffp"}},
		{Kind: eventlog.KindRetryScheduled, Payload: eventlog.RetryScheduledPayload{StepID: "s1", Reason: "transient", MaxAttempts: 3}},
	}

	inst, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inst.Slots[0].Status != Pending {
		t.Errorf("expected slot 0 Pending after retry, got %s", inst.Slots[0].Status)
	}
	if inst.Cursor != 0 {
		t.Errorf("expected cursor 0, got %d", inst.Cursor)
	}
}

// TestReplay_SecondFailureOutnumbersRetryAgain verifies that after a
// retried step fails a second time, the slot is Failed again until
// another retry is scheduled.
func TestReplay_SecondFailureOutnumbersRetryAgain(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
		{Kind: eventlog.KindStepFailed, Payload: eventlog.StepFailedPayload{StepIndex: 0, StepID: "s1"}},
		{Kind: eventlog.KindRetryScheduled, Payload: eventlog.RetryScheduledPayload{StepID: "s1", MaxAttempts: 3}},
		{Kind: eventlog.KindStepStarted, Payload: eventlog.StepStartedPayload{StepIndex: 0, StepID: "s1"}},
		{Kind: eventlog.KindStepFailed, Payload: eventlog.StepFailedPayload{StepIndex: 0, StepID: "s1"}},
	}

	inst, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inst.Slots[0].Status != Failed {
		t.Errorf("expected slot 0 Failed again, got %s", inst.Slots[0].Status)
	}
}

// TestReplay_HumanGateRoundTrip verifies AwaitingUserInput -> Running on
// UserInteractionProvided, and that the cursor tracks the gated slot.
func TestReplay_HumanGateRoundTrip(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
		{Kind: eventlog.KindUserInteractionRequested, Payload: eventlog.UserInteractionRequestedPayload{StepIndex: 0, StepID: "s1"}},
	}

	inst, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inst.Slots[0].Status != AwaitingUserInput {
		t.Fatalf("expected AwaitingUserInput, got %s", inst.Slots[0].Status)
	}
	if inst.Cursor != 0 {
		t.Errorf("expected cursor to stay on the gated slot, got %d", inst.Cursor)
	}

	events = append(events, eventlog.Event{
		Kind: eventlog.KindUserInteractionProvided,
		Payload: eventlog.UserInteractionProvidedPayload{StepIndex: 0, StepID: "s1", Provided: map[string]any{"ok": true}},
	})
	inst, err = Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inst.Slots[0].Status != Running {
		t.Errorf("expected Running after UserInteractionProvided, got %s", inst.Slots[0].Status)
	}
	if inst.Cursor != 0 {
		t.Errorf("expected cursor to re-enter the resumed slot, got %d", inst.Cursor)
	}
}

// TestReplay_UserInteractionProvidedIgnoredWithoutPriorRequest verifies
// UserInteractionProvided has no effect unless the slot was actually
// AwaitingUserInput; this guards against malformed event sequences
// forging a spurious resume.
func TestReplay_UserInteractionProvidedIgnoredWithoutPriorRequest(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
		{Kind: eventlog.KindUserInteractionProvided, Payload: eventlog.UserInteractionProvidedPayload{StepIndex: 0, StepID: "s1"}},
	}

	inst, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if inst.Slots[0].Status != Pending {
		t.Errorf("expected slot to remain Pending, got %s", inst.Slots[0].Status)
	}
}

// TestReplay_FlowCompletedSetsFingerprint verifies the Instance's
// FlowFingerprint is populated straight from the FlowCompleted payload.
func TestReplay_FlowCompletedSetsFingerprint(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
		{Kind: eventlog.KindFlowCompleted, Payload: eventlog.FlowCompletedPayload{FlowFingerprint: "ffp-xyz"}},
	}

	inst, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !inst.Completed {
		t.Fatal("expected Completed true")
	}
	fp, ok := inst.Fingerprint()
	if !ok || fp != "ffp-xyz" {
		t.Errorf("expected fingerprint ffp-xyz, got %q (ok=%v)", fp, ok)
	}
}

// TestReplay_IsPureFunctionOfItsInputs replays the same event list twice
// and requires the two derived instances to agree on cursor and slot
// statuses: the repository contract (§6) is a pure function.
func TestReplay_IsPureFunctionOfItsInputs(t *testing.T) {
	def := threeStepDef(t)
	events := []eventlog.Event{
		{Kind: eventlog.KindFlowInitialized, Payload: eventlog.FlowInitializedPayload{DefinitionHash: def.DefinitionHash, StepCount: 3}},
		{Kind: eventlog.KindStepStarted, Payload: eventlog.StepStartedPayload{StepIndex: 0, StepID: "s1"}},
		{Kind: eventlog.KindStepFinished, Payload: eventlog.StepFinishedPayload{StepIndex: 0, StepID: "s1", Outputs: []string{"h1"}, Fingerprint: "fp1"}},
	}

	inst1, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay 1: %v", err)
	}
	inst2, err := Replay("flow-1", events, def)
	if err != nil {
		t.Fatalf("replay 2: %v", err)
	}
	if inst1.Cursor != inst2.Cursor || inst1.EventTrail() != inst2.EventTrail() {
		t.Error("replay is not pure: two replays of the same events diverged")
	}
}
