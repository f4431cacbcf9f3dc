// Package engine implements the scheduler: the linear, event-sourced
// state machine that advances one step at a time, the branching
// subsystem, and the human-gate/retry control extensions.
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"detflow/internal/core"
	"detflow/internal/engineerr"
	"detflow/internal/eventlog"
	"detflow/internal/flowdef"
)

// Engine advances flows one tick at a time. It owns the event store
// handle, the artifact store, and the ordered list of parameter
// injectors; step definitions are owned by the Definition passed to each
// call.
type Engine struct {
	store     eventlog.Store
	injector  *core.CompositeInjector
	obs       *observability
	artifacts *artifactStore
}

// artifactStore is the process-local, content-addressed cache of facts
// described in §4.7: a cache, not a source of truth, fully owned by the
// engine and free to be evicted/repopulated since the event log plus
// re-execution is the real source of truth.
type artifactStore struct {
	mu    sync.RWMutex
	byHash map[string]core.Artifact
}

func newArtifactStore() *artifactStore {
	return &artifactStore{byHash: make(map[string]core.Artifact)}
}

func (s *artifactStore) put(a core.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byHash[a.Hash] = a
}

func (s *artifactStore) get(hash string) (core.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byHash[hash]
	return a, ok
}

// NewEngine constructs an Engine over the given event store and ordered
// injector list.
func NewEngine(store eventlog.Store, injectors ...core.ParamInjector) *Engine {
	return &Engine{
		store:     store,
		injector:  core.NewCompositeInjector(injectors...),
		obs:       newObservability(),
		artifacts: newArtifactStore(),
	}
}

// NewFlowID mints a fresh flow identifier.
func NewFlowID() string { return uuid.NewString() }

func (e *Engine) load(ctx context.Context, flowID string, def flowdef.Definition) (*flowdef.Instance, error) {
	events, err := e.store.List(ctx, flowID)
	if err != nil {
		return nil, &engineerr.StorageError{Msg: err.Error()}
	}
	return flowdef.Replay(flowID, events, def)
}

func (e *Engine) append(ctx context.Context, flowID string, kind eventlog.Kind, payload any) (eventlog.Event, error) {
	ev, err := e.store.Append(ctx, flowID, kind, payload)
	if err != nil {
		return eventlog.Event{}, &engineerr.StorageError{Msg: err.Error()}
	}
	return ev, nil
}

// Tick advances the flow by exactly one step, per §4.6:
//
//  1. Ensure FlowInitialized has been appended.
//  2. Replay; fail if already completed, out of bounds, or a prior step
//     is Failed and not retried away.
//  3. Resolve the input artifact from the previous step's first output.
//  4. Compute effective params via the injection pipeline.
//  5. Append StepStarted, invoke the step.
//  6. On success: seal and store outputs, append signals (translating
//     reserved ones), compute and append the step fingerprint, and, on
//     the last step, the flow fingerprint.
//  7. On failure: compute a failure fingerprint and append StepFailed.
func (e *Engine) Tick(ctx context.Context, flowID string, def flowdef.Definition) error {
	e.obs.emit(ctx, EventTickStarted, LifecycleEvent{FlowID: flowID})
	e.obs.metrics.Counter(MetricTicksTotal).Inc()

	ctx, span := e.obs.tracer.StartSpan(ctx, SpanTick)
	defer span.Finish()

	events, err := e.store.List(ctx, flowID)
	if err != nil {
		return &engineerr.StorageError{Msg: err.Error()}
	}
	if len(events) == 0 {
		if _, err := e.append(ctx, flowID, eventlog.KindFlowInitialized, eventlog.FlowInitializedPayload{
			DefinitionHash: def.DefinitionHash,
			StepCount:      len(def.Steps),
		}); err != nil {
			return err
		}
	}

	instance, err := e.load(ctx, flowID, def)
	if err != nil {
		return err
	}
	if instance.Completed {
		return engineerr.ErrFlowCompleted
	}
	if instance.Cursor >= len(def.Steps) {
		return engineerr.ErrFlowCompleted
	}

	i := instance.Cursor
	status := instance.Slots[i].Status
	switch status {
	case flowdef.Failed:
		return engineerr.ErrFlowHasFailed
	case flowdef.AwaitingUserInput:
		// Still waiting on ResumeUserInput; nothing to do this tick.
		return nil
	}
	step := def.Steps[i]

	var input *core.Artifact
	if i > 0 {
		prev := instance.Slots[i-1]
		if len(prev.OutputHashes) == 0 {
			return engineerr.ErrMissingInputs
		}
		artifact, ok := e.artifacts.get(prev.OutputHashes[0])
		if !ok {
			return engineerr.ErrMissingInputs
		}
		input = &artifact
	}

	effectiveParams := e.injector.Apply(step.BaseParams(), core.ExecutionContext{Input: input, Params: step.BaseParams()})

	// status == Running means this slot already passed the gate check on
	// a prior tick (it was AwaitingUserInput and has since received
	// UserInteractionProvided); re-entering the gate check here would
	// loop forever, since the step's base params still carry the
	// requires_human_input flag. The provided value, found by scanning
	// for the step's most recent UserInteractionProvided event, is
	// merged in as the final overlay per §4.9.
	if status == flowdef.Running {
		if provided, ok := findProvided(events, i); ok {
			effectiveParams = core.ShallowMerge(effectiveParams, provided)
		}
	} else if gated, ok := requiresHumanGate(effectiveParams); ok && gated {
		if _, err := e.append(ctx, flowID, eventlog.KindUserInteractionRequested, eventlog.UserInteractionRequestedPayload{
			StepIndex: i,
			StepID:    step.ID(),
		}); err != nil {
			return err
		}
		return nil
	}

	if _, err := e.append(ctx, flowID, eventlog.KindStepStarted, eventlog.StepStartedPayload{
		StepIndex: i,
		StepID:    step.ID(),
	}); err != nil {
		return err
	}
	e.obs.emit(ctx, EventStepStarted, LifecycleEvent{FlowID: flowID, StepID: step.ID(), StepIndex: i})

	result := step.Run(ctx, core.ExecutionContext{Input: input, Params: effectiveParams})

	if result.Failed() {
		return e.handleFailure(ctx, flowID, def, i, step, effectiveParams, result)
	}
	return e.handleSuccess(ctx, flowID, def, i, step, effectiveParams, result)
}

func (e *Engine) handleSuccess(ctx context.Context, flowID string, def flowdef.Definition, i int, step core.StepDefinition, effectiveParams any, result core.RunResult) error {
	outputHashes := make([]string, 0, len(result.Outputs))
	for _, out := range result.Outputs {
		sealed, err := out.Sealed()
		if err != nil {
			return &engineerr.Internal{Msg: err.Error()}
		}
		e.artifacts.put(sealed)
		outputHashes = append(outputHashes, sealed.Hash)
	}

	for _, sig := range result.Signals {
		if _, err := e.append(ctx, flowID, eventlog.KindStepSignal, eventlog.StepSignalPayload{
			StepIndex: i,
			StepID:    step.ID(),
			Signal:    sig.Name,
			Data:      sig.Data,
		}); err != nil {
			return err
		}
		if err := e.translateReservedSignal(ctx, flowID, sig); err != nil {
			return err
		}
	}

	fp, err := computeStepFingerprint(def.DefinitionHash, i, outputHashes, effectiveParams)
	if err != nil {
		return &engineerr.Internal{Msg: err.Error()}
	}
	if _, err := e.append(ctx, flowID, eventlog.KindStepFinished, eventlog.StepFinishedPayload{
		StepIndex:   i,
		StepID:      step.ID(),
		Outputs:     outputHashes,
		Fingerprint: fp,
	}); err != nil {
		return err
	}
	e.obs.emit(ctx, EventStepFinished, LifecycleEvent{FlowID: flowID, StepID: step.ID(), StepIndex: i})

	if i+1 == len(def.Steps) {
		return e.completeFlow(ctx, flowID, def)
	}
	return nil
}

func (e *Engine) completeFlow(ctx context.Context, flowID string, def flowdef.Definition) error {
	instance, err := e.load(ctx, flowID, def)
	if err != nil {
		return err
	}
	fingerprints := make([]string, len(instance.Slots))
	for i, s := range instance.Slots {
		fingerprints[i] = s.Fingerprint
	}
	flowFp, err := computeFlowFingerprint(def.DefinitionHash, fingerprints)
	if err != nil {
		return &engineerr.Internal{Msg: err.Error()}
	}
	if _, err := e.append(ctx, flowID, eventlog.KindFlowCompleted, eventlog.FlowCompletedPayload{
		FlowFingerprint: flowFp,
	}); err != nil {
		return err
	}
	e.obs.emit(ctx, EventFlowCompleted, LifecycleEvent{FlowID: flowID})
	return nil
}

func (e *Engine) handleFailure(ctx context.Context, flowID string, def flowdef.Definition, i int, step core.StepDefinition, baseParams any, result core.RunResult) error {
	stepDefHash, err := core.StepDefinitionHash(step)
	if err != nil {
		return &engineerr.Internal{Msg: err.Error()}
	}
	fp, err := computeFailureFingerprint(stepDefHash, i, step.BaseParams())
	if err != nil {
		return &engineerr.Internal{Msg: err.Error()}
	}
	if _, err := e.append(ctx, flowID, eventlog.KindStepFailed, eventlog.StepFailedPayload{
		StepIndex:   i,
		StepID:      step.ID(),
		Error:       result.Err.Error(),
		Fingerprint: fp,
	}); err != nil {
		return err
	}
	e.obs.metrics.Counter(MetricStepsFailedTotal).Inc()
	e.obs.emit(ctx, EventStepFailed, LifecycleEvent{FlowID: flowID, StepID: step.ID(), StepIndex: i, Err: result.Err})
	return result.Err
}

// RunToCompletion repeatedly ticks flowID until FlowCompleted (ErrFlowCompleted is
// swallowed as success) or another error occurs.
func (e *Engine) RunToCompletion(ctx context.Context, flowID string, def flowdef.Definition) error {
	for {
		err := e.Tick(ctx, flowID, def)
		if err == nil {
			instance, loadErr := e.load(ctx, flowID, def)
			if loadErr != nil {
				return loadErr
			}
			if instance.Completed {
				return nil
			}
			continue
		}
		if err == engineerr.ErrFlowCompleted {
			return nil
		}
		return err
	}
}

// StoreArtifact makes an already-sealed artifact available to the
// engine's in-memory cache, used by branch copy (§4.8) to repopulate
// artifacts produced on the parent before the branch existed.
func (e *Engine) StoreArtifact(a core.Artifact) {
	e.artifacts.put(a)
}

// HasArtifact reports whether hash is present in the engine's store.
func (e *Engine) HasArtifact(hash string) bool {
	_, ok := e.artifacts.get(hash)
	return ok
}

// findProvided returns the Provided payload of the most recent
// UserInteractionProvided event for stepIndex, if any.
func findProvided(events []eventlog.Event, stepIndex int) (any, bool) {
	var found any
	ok := false
	for _, ev := range events {
		if ev.Kind != eventlog.KindUserInteractionProvided {
			continue
		}
		p, err := eventlog.DecodePayload[eventlog.UserInteractionProvidedPayload](ev.Payload)
		if err != nil || p.StepIndex != stepIndex {
			continue
		}
		found = p.Provided
		ok = true
	}
	return found, ok
}

func requiresHumanGate(params any) (bool, bool) {
	m, ok := params.(map[string]any)
	if !ok {
		return false, false
	}
	v, present := m["requires_human_input"]
	if !present {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
