// Package eventlog defines the append-only, replayable event record and
// the store contract that backs it (in-memory and Postgres
// implementations).
package eventlog

import "time"

// Kind names the variant of an Event. The lowercase string value is also
// what a persistent backend stores in its event_type column.
type Kind string

const (
	KindFlowInitialized          Kind = "flow_initialized"
	KindStepStarted              Kind = "step_started"
	KindStepFinished             Kind = "step_finished"
	KindStepFailed               Kind = "step_failed"
	KindStepSignal               Kind = "step_signal"
	KindPropertyPreferenceAssigned Kind = "property_preference_assigned"
	KindRetryScheduled           Kind = "retry_scheduled"
	KindBranchCreated            Kind = "branch_created"
	KindUserInteractionRequested Kind = "user_interaction_requested"
	KindUserInteractionProvided  Kind = "user_interaction_provided"
	KindFlowCompleted            Kind = "flow_completed"
)

// Event is the immutable, ordered record of one state transition within a
// flow. Seq is strictly monotonic per flow starting at 0. TS is metadata
// only and is never an input to any hash.
type Event struct {
	Seq     int       `json:"seq"`
	FlowID  string    `json:"flow_id"`
	Kind    Kind       `json:"kind"`
	TS      time.Time `json:"ts"`
	Payload any       `json:"payload"`
}

// Payload shapes for each Kind. These are plain structs decoded from/
// encoded to Event.Payload (an any holding a map[string]any once it has
// round-tripped through a store); DecodePayload in payload.go converts
// between the two.

type FlowInitializedPayload struct {
	DefinitionHash string `json:"definition_hash"`
	StepCount      int    `json:"step_count"`
}

type StepStartedPayload struct {
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id"`
}

type StepFinishedPayload struct {
	StepIndex   int      `json:"step_index"`
	StepID      string   `json:"step_id"`
	Outputs     []string `json:"outputs"`
	Fingerprint string   `json:"fingerprint"`
}

type StepFailedPayload struct {
	StepIndex   int    `json:"step_index"`
	StepID      string `json:"step_id"`
	Error       string `json:"error"`
	Fingerprint string `json:"fingerprint"`
}

type StepSignalPayload struct {
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id"`
	Signal    string `json:"signal"`
	Data      any    `json:"data,omitempty"`
}

type PropertyPreferenceAssignedPayload struct {
	PropertyKey string `json:"property_key"`
	PolicyID    string `json:"policy_id"`
	ParamsHash  string `json:"params_hash"`
	Rationale   string `json:"rationale,omitempty"`
}

type RetryScheduledPayload struct {
	StepID      string `json:"step_id"`
	Reason      string `json:"reason"`
	MaxAttempts int    `json:"max_attempts"`
}

type BranchCreatedPayload struct {
	BranchID              string  `json:"branch_id"`
	ParentFlowID          string  `json:"parent_flow_id"`
	RootFlowID            string  `json:"root_flow_id"`
	CreatedFromStepID     string  `json:"created_from_step_id"`
	DivergenceParamsHash  *string `json:"divergence_params_hash,omitempty"`
}

type UserInteractionRequestedPayload struct {
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id"`
	Schema    any    `json:"schema,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

type UserInteractionProvidedPayload struct {
	StepIndex int    `json:"step_index"`
	StepID    string `json:"step_id"`
	Provided  any    `json:"provided"`
}

type FlowCompletedPayload struct {
	FlowFingerprint string `json:"flow_fingerprint"`
}
