package flowdef

import (
	"testing"

	"detflow/internal/core"
)

func TestNewBuilder_FirstStepMustBeSource(t *testing.T) {
	b := NewBuilder(fakeStep{id: "s1", kind: core.Transform})
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error when first step is not Source")
	}
}

func TestBuilder_BuildProducesDeterministicHash(t *testing.T) {
	def1, err := NewBuilder(fakeStep{id: "s1", kind: core.Source}).
		Then(fakeStep{id: "s2", kind: core.Transform}).
		Then(fakeStep{id: "s3", kind: core.Sink}).
		Build()
	if err != nil {
		t.Fatalf("build 1: %v", err)
	}

	def2, err := NewBuilder(fakeStep{id: "s1", kind: core.Source}).
		Then(fakeStep{id: "s2", kind: core.Transform}).
		Then(fakeStep{id: "s3", kind: core.Sink}).
		Build()
	if err != nil {
		t.Fatalf("build 2: %v", err)
	}

	if def1.DefinitionHash != def2.DefinitionHash {
		t.Errorf("identical step-id sequences must hash identically: %q vs %q", def1.DefinitionHash, def2.DefinitionHash)
	}
}

func TestBuilder_RejectsDuplicateStepID(t *testing.T) {
	_, err := NewBuilder(fakeStep{id: "s1", kind: core.Source}).
		Then(fakeStep{id: "s1", kind: core.Transform}).
		Build()
	if err == nil {
		t.Fatal("expected error for duplicate step id")
	}
}

func TestBuilder_StepIDsPreservesOrder(t *testing.T) {
	def, err := NewBuilder(fakeStep{id: "a", kind: core.Source}).
		Then(fakeStep{id: "b", kind: core.Transform}).
		Then(fakeStep{id: "c", kind: core.Sink}).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ids := def.StepIDs()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("position %d: got %q, want %q", i, ids[i], id)
		}
	}
}

func TestDefinition_IndexOfUnknownStepIsNegativeOne(t *testing.T) {
	def := threeStepDef(t)
	if def.IndexOf("nope") != -1 {
		t.Error("expected -1 for an unknown step id")
	}
}
