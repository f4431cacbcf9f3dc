package flowdef

import (
	"time"

	"detflow/internal/eventlog"
)

// SlotStatus is the replayed state of one step position.
type SlotStatus string

const (
	Pending           SlotStatus = "pending"
	Running           SlotStatus = "running"
	AwaitingUserInput SlotStatus = "awaiting_user_input"
	FinishedOk        SlotStatus = "finished_ok"
	Failed            SlotStatus = "failed"
)

// Slot is the derived, per-position replay state of a flow.
type Slot struct {
	StepID       string
	Status       SlotStatus
	Fingerprint  string
	OutputHashes []string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Instance is the derived (never stored) view of a flow obtained by
// replaying its event log against a Definition.
type Instance struct {
	ID              string
	Slots           []Slot
	Cursor          int
	Completed       bool
	FlowFingerprint string
}

// Replay is a pure function: Replay(flowID, events, def) always returns
// the same Instance for the same inputs. It starts from all-Pending
// slots and applies events in order, per §4.3, plus the retry-bookkeeping
// rule (Open Question resolution 3 in DESIGN.md): a slot with at least as
// many RetryScheduled events as StepFailed events for its step is treated
// as Pending rather than Failed, so the k-th retry matching the k-th
// failure is what re-opens the slot.
func Replay(flowID string, events []eventlog.Event, def Definition) (*Instance, error) {
	slots := make([]Slot, len(def.Steps))
	for i, s := range def.Steps {
		slots[i] = Slot{StepID: s.ID(), Status: Pending}
	}

	inst := &Instance{ID: flowID, Slots: slots}

	retriesByStep := map[string]int{}
	failuresByIndex := map[int]int{}

	for _, ev := range events {
		switch ev.Kind {
		case eventlog.KindFlowInitialized:
			// No slot change.

		case eventlog.KindStepStarted:
			p, err := eventlog.DecodePayload[eventlog.StepStartedPayload](ev.Payload)
			if err != nil {
				return nil, err
			}
			if p.StepIndex < len(inst.Slots) {
				now := ev.TS
				inst.Slots[p.StepIndex].Status = Running
				inst.Slots[p.StepIndex].StartedAt = &now
			}

		case eventlog.KindStepFinished:
			p, err := eventlog.DecodePayload[eventlog.StepFinishedPayload](ev.Payload)
			if err != nil {
				return nil, err
			}
			if p.StepIndex < len(inst.Slots) {
				now := ev.TS
				slot := &inst.Slots[p.StepIndex]
				slot.Status = FinishedOk
				slot.OutputHashes = p.Outputs
				slot.Fingerprint = p.Fingerprint
				slot.FinishedAt = &now
			}

		case eventlog.KindStepFailed:
			p, err := eventlog.DecodePayload[eventlog.StepFailedPayload](ev.Payload)
			if err != nil {
				return nil, err
			}
			if p.StepIndex < len(inst.Slots) {
				failuresByIndex[p.StepIndex]++
				now := ev.TS
				slot := &inst.Slots[p.StepIndex]
				slot.Status = Failed
				slot.Fingerprint = p.Fingerprint
				slot.FinishedAt = &now
				if retriesByStep[p.StepID] >= failuresByIndex[p.StepIndex] {
					slot.Status = Pending
				}
			}

		case eventlog.KindRetryScheduled:
			p, err := eventlog.DecodePayload[eventlog.RetryScheduledPayload](ev.Payload)
			if err != nil {
				return nil, err
			}
			retriesByStep[p.StepID]++
			if idx := def.IndexOf(p.StepID); idx >= 0 && idx < len(inst.Slots) {
				if retriesByStep[p.StepID] >= failuresByIndex[idx] {
					inst.Slots[idx].Status = Pending
				}
			}

		case eventlog.KindUserInteractionRequested:
			p, err := eventlog.DecodePayload[eventlog.UserInteractionRequestedPayload](ev.Payload)
			if err != nil {
				return nil, err
			}
			if p.StepIndex < len(inst.Slots) {
				inst.Slots[p.StepIndex].Status = AwaitingUserInput
			}

		case eventlog.KindUserInteractionProvided:
			p, err := eventlog.DecodePayload[eventlog.UserInteractionProvidedPayload](ev.Payload)
			if err != nil {
				return nil, err
			}
			if p.StepIndex < len(inst.Slots) && inst.Slots[p.StepIndex].Status == AwaitingUserInput {
				inst.Slots[p.StepIndex].Status = Running
			}

		case eventlog.KindFlowCompleted:
			p, err := eventlog.DecodePayload[eventlog.FlowCompletedPayload](ev.Payload)
			if err != nil {
				return nil, err
			}
			inst.Completed = true
			inst.FlowFingerprint = p.FlowFingerprint

		default:
			// StepSignal, PropertyPreferenceAssigned, BranchCreated:
			// advisory, no slot change.
		}
	}

	// The cursor is the first slot not yet FinishedOk. In the no-gate,
	// no-failure case this is always the first Pending slot, since Running
	// never survives past the synchronous tick that set it. A Failed slot
	// becomes the cursor itself, and the caller treats it as a hard stop
	// (see Engine.Tick). A slot returned to Running by UserInteractionProvided
	// needs the cursor to land back on it so the next tick re-enters the
	// step; treating any non-FinishedOk status as "not yet done" makes
	// that fall out naturally instead of requiring a special case.
	inst.Cursor = len(inst.Slots)
	for i, s := range inst.Slots {
		if s.Status != FinishedOk {
			inst.Cursor = i
			break
		}
	}

	return inst, nil
}
