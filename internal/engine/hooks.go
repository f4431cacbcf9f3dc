package engine

import (
	"context"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability event keys. These never influence a fingerprint; they
// exist purely so an operator can subscribe to engine lifecycle events
// without touching the deterministic event log.
const (
	EventTickStarted    = hookz.Key("engine.tick.started")
	EventStepStarted    = hookz.Key("engine.step.started")
	EventStepFinished   = hookz.Key("engine.step.finished")
	EventStepFailed     = hookz.Key("engine.step.failed")
	EventFlowCompleted  = hookz.Key("engine.flow.completed")
	EventBranchCreated  = hookz.Key("engine.branch.created")
	EventRetryScheduled = hookz.Key("engine.retry.scheduled")
)

var (
	MetricTicksTotal           = metricz.Key("engine.ticks.total")
	MetricStepsFailedTotal     = metricz.Key("engine.steps.failed.total")
	MetricRetriesScheduled     = metricz.Key("engine.retries.scheduled.total")
	MetricBranchesCreatedTotal = metricz.Key("engine.branches.created.total")
	MetricStepsRunningCurrent  = metricz.Key("engine.steps.running.current")

	SpanTick = tracez.Key("engine.tick")
)

// LifecycleEvent is the payload delivered to hookz subscribers.
type LifecycleEvent struct {
	FlowID    string
	StepID    string
	StepIndex int
	Err       error
	Timestamp time.Time
}

// observability bundles the three ambient, non-deterministic sibling
// libraries the engine uses for operator-facing monitoring. None of this
// participates in the event log or any fingerprint.
type observability struct {
	hooks   *hookz.Hooks[LifecycleEvent]
	metrics *metricz.Registry
	tracer  *tracez.Tracer
}

func newObservability() *observability {
	metrics := metricz.New()
	metrics.Counter(MetricTicksTotal)
	metrics.Counter(MetricStepsFailedTotal)
	metrics.Counter(MetricRetriesScheduled)
	metrics.Counter(MetricBranchesCreatedTotal)
	metrics.Gauge(MetricStepsRunningCurrent)

	return &observability{
		hooks:   hookz.New[LifecycleEvent](),
		metrics: metrics,
		tracer:  tracez.New(),
	}
}

func (o *observability) emit(ctx context.Context, key hookz.Key, ev LifecycleEvent) {
	if o == nil {
		return
	}
	ev.Timestamp = time.Now()
	_ = o.hooks.Emit(ctx, key, ev) //nolint:errcheck
}

func (o *observability) close() {
	if o == nil {
		return
	}
	o.hooks.Close()
	o.tracer.Close()
}

// Hooks exposes the engine's hookz subscription surface, so callers can
// wire metrics/alerting without reaching into engine internals.
func (e *Engine) Hooks() *hookz.Hooks[LifecycleEvent] {
	return e.obs.hooks
}

// Metrics exposes the engine's metricz registry for scraping.
func (e *Engine) Metrics() *metricz.Registry {
	return e.obs.metrics
}

// Tracer exposes the engine's tracez tracer so callers outside the engine
// package (the CLI's control-extension commands) can open spans around
// their own calls using the same tracer Tick uses internally.
func (e *Engine) Tracer() *tracez.Tracer {
	return e.obs.tracer
}

// Close releases the engine's observability resources.
func (e *Engine) Close() {
	e.obs.close()
}
