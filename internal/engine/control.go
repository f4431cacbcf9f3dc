package engine

import (
	"context"

	"detflow/internal/core"
	"detflow/internal/engineerr"
	"detflow/internal/eventlog"
	"detflow/internal/flowdef"
)

// ReservedSignalPropertyPreferenceAssigned is the only reserved signal
// name currently defined; the scheduler translates it into a typed
// PropertyPreferenceAssigned event.
const ReservedSignalPropertyPreferenceAssigned = "PROPERTY_PREFERENCE_ASSIGNED"

// translateReservedSignal performs the reserved-signal-to-typed-event
// translation described in §4.9. Placement is the scheduler, per the
// spec's stated portability preference, not the event-store backend.
func (e *Engine) translateReservedSignal(ctx context.Context, flowID string, sig core.Signal) error {
	if sig.Name != ReservedSignalPropertyPreferenceAssigned {
		return nil
	}
	data, ok := sig.Data.(map[string]any)
	if !ok {
		return &engineerr.Internal{Msg: "PROPERTY_PREFERENCE_ASSIGNED signal data is not an object"}
	}
	payload := eventlog.PropertyPreferenceAssignedPayload{
		PropertyKey: stringField(data, "property_key"),
		PolicyID:    stringField(data, "policy_id"),
		ParamsHash:  stringField(data, "params_hash"),
		Rationale:   stringField(data, "rationale"),
	}
	_, err := e.append(ctx, flowID, eventlog.KindPropertyPreferenceAssigned, payload)
	return err
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// RequestUserInput manually records a human-gate request for step
// stepID. It appends the same UserInteractionRequested event that Tick
// appends itself when a step's params declare requires_human_input, so a
// caller can pause a flow for input without that flag.
func (e *Engine) RequestUserInput(ctx context.Context, flowID string, def flowdef.Definition, stepID string) error {
	idx := def.IndexOf(stepID)
	if idx < 0 {
		return engineerr.ErrInvalidStepIndex
	}
	_, err := e.append(ctx, flowID, eventlog.KindUserInteractionRequested, eventlog.UserInteractionRequestedPayload{
		StepIndex: idx,
		StepID:    stepID,
	})
	return err
}

// ResumeUserInput appends UserInteractionProvided for stepID. The next
// Tick re-enters the step, merging provided into the effective params as
// the final injection overlay. An empty provided value must yield the
// same effective params, and therefore the same fingerprint, as a run
// without the gate.
func (e *Engine) ResumeUserInput(ctx context.Context, flowID string, def flowdef.Definition, stepID string, provided any) error {
	idx := def.IndexOf(stepID)
	if idx < 0 {
		return engineerr.ErrInvalidStepIndex
	}
	instance, err := e.load(ctx, flowID, def)
	if err != nil {
		return err
	}
	if idx >= len(instance.Slots) || instance.Slots[idx].Status != flowdef.AwaitingUserInput {
		return &engineerr.InvalidTransition{From: string(statusOf(instance, idx)), To: string(flowdef.Running)}
	}
	_, err = e.append(ctx, flowID, eventlog.KindUserInteractionProvided, eventlog.UserInteractionProvidedPayload{
		StepIndex: idx,
		StepID:    stepID,
		Provided:  provided,
	})
	return err
}

func statusOf(inst *flowdef.Instance, idx int) flowdef.SlotStatus {
	if idx < 0 || idx >= len(inst.Slots) {
		return ""
	}
	return inst.Slots[idx].Status
}

// ScheduleRetry is permitted only when stepID's slot is Failed and the
// number of retries already scheduled for it is under maxAttempts. On
// success it appends RetryScheduled; a subsequent replay counts
// RetryScheduled against StepFailed for the step and, once retries catch
// up to failures, treats the slot as Pending again.
func (e *Engine) ScheduleRetry(ctx context.Context, flowID string, def flowdef.Definition, stepID string, reason string, maxAttempts int) error {
	idx := def.IndexOf(stepID)
	if idx < 0 {
		return engineerr.ErrInvalidStepIndex
	}
	instance, err := e.load(ctx, flowID, def)
	if err != nil {
		return err
	}
	if idx >= len(instance.Slots) || instance.Slots[idx].Status != flowdef.Failed {
		return &engineerr.RetryNotAllowed{StepID: stepID, Reason: "slot is not Failed"}
	}

	events, err := e.store.List(ctx, flowID)
	if err != nil {
		return &engineerr.StorageError{Msg: err.Error()}
	}
	scheduled, failed := countRetryBookkeeping(events, stepID, idx)
	if scheduled >= maxAttempts {
		return &engineerr.RetryNotAllowed{StepID: stepID, Reason: "max attempts reached"}
	}
	if scheduled >= failed {
		return &engineerr.RetryNotAllowed{StepID: stepID, Reason: "no new failure to retry"}
	}

	e.obs.metrics.Counter(MetricRetriesScheduled).Inc()
	e.obs.emit(ctx, EventRetryScheduled, LifecycleEvent{FlowID: flowID, StepID: stepID, StepIndex: idx})

	_, err = e.append(ctx, flowID, eventlog.KindRetryScheduled, eventlog.RetryScheduledPayload{
		StepID:      stepID,
		Reason:      reason,
		MaxAttempts: maxAttempts,
	})
	return err
}

func countRetryBookkeeping(events []eventlog.Event, stepID string, stepIndex int) (scheduled, failed int) {
	for _, ev := range events {
		switch ev.Kind {
		case eventlog.KindRetryScheduled:
			p, err := eventlog.DecodePayload[eventlog.RetryScheduledPayload](ev.Payload)
			if err == nil && p.StepID == stepID {
				scheduled++
			}
		case eventlog.KindStepFailed:
			p, err := eventlog.DecodePayload[eventlog.StepFailedPayload](ev.Payload)
			if err == nil && p.StepIndex == stepIndex {
				failed++
			}
		}
	}
	return scheduled, failed
}
