// Package kernel is the authority kernel: a deterministic state machine that
// decides, one event at a time, whether a requested action or structural
// transformation is admissible under explicitly granted, scoped authority.
//
// The Kernel owns its state exclusively. Every mutation goes through
// ProcessEvent, which runs the handler against a scratch copy, charges gas,
// and commits the copy only when the event completes. A failed event leaves
// the committed state byte-identical.
//
// The kernel never blocks and is not safe for concurrent use; events are
// applied in the order the caller supplies them.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"authkernel/internal/kernel/gas"
	"authkernel/internal/kernel/metrics"
	"authkernel/internal/kernel/models"
	"authkernel/internal/kernel/scope"
)

// Kernel is the single mutation entrypoint for one run.
type Kernel struct {
	state *models.State
	index *scope.Index

	schedule              gas.Schedule
	allowScopedResolution bool

	// eventCount is the number of events processed; the next event gets
	// this value as its index.
	eventCount int

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the structured logger. Without one the kernel is silent.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		k.logger = logger
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(k *Kernel) {
		k.metrics = m
	}
}

// WithGasSchedule replaces the default cost table and budgets.
func WithGasSchedule(s gas.Schedule) Option {
	return func(k *Kernel) {
		k.schedule = s
	}
}

// WithScopedResolution enables RESOLVE_CONFLICT transformations by holders
// whose authority covers the whole conflict scope. Disabled by default:
// external DestructionAuthorization is then the only resolution path.
func WithScopedResolution(enabled bool) Option {
	return func(k *Kernel) {
		k.allowScopedResolution = enabled
	}
}

// WithInitialState starts the kernel from a copy of s instead of an empty
// state at epoch 0.
func WithInitialState(s *models.State) Option {
	return func(k *Kernel) {
		if s != nil {
			k.state = s.Clone()
		}
	}
}

// New builds a kernel. The initial state ID is recomputed from content.
func New(opts ...Option) (*Kernel, error) {
	k := &Kernel{
		state:    models.NewState(0),
		schedule: gas.DefaultSchedule(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	if err := k.schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gas schedule: %w", err)
	}
	if k.state.Authorities == nil {
		k.state.Authorities = make(map[models.AuthorityID]*models.Authority)
	}
	if k.state.Conflicts == nil {
		k.state.Conflicts = make(map[models.ConflictID]*models.Conflict)
	}
	if k.state.DeadlockKind == "" {
		k.state.DeadlockKind = models.DeadlockNone
	}
	k.state.StateID = k.state.ComputeID()
	k.index = scope.Build(k.state)
	k.metrics.SetEpoch(k.state.Epoch)
	return k, nil
}

// State returns a snapshot of the committed state.
func (k *Kernel) State() *models.State {
	return k.state.Clone()
}

// StateID returns the canonical hash of the committed state.
func (k *Kernel) StateID() string {
	return k.state.StateID
}

// EventCount returns the number of events processed so far.
func (k *Kernel) EventCount() int {
	return k.eventCount
}

// ProcessEvent applies one event atomically and returns its typed result.
// Every expected outcome, refusals and failures included, is reported in the
// result. It panics only when given an event variant it does not recognize.
// ctx is used for logging; processing is never cancelled.
func (k *Kernel) ProcessEvent(ctx context.Context, ev models.Event) models.KernelResult {
	index := k.eventCount
	k.eventCount++

	st := k.begin(ev.Type(), index)

	var err error
	switch e := ev.(type) {
	case models.AuthorityInjection:
		err = st.inject(e)
	case models.ActionRequest:
		err = st.requestAction(e)
	case models.TransformationRequest:
		err = st.transform(e)
	case models.DestructionAuthorization:
		err = st.authorizeDestruction(e)
	case models.EpochAdvancement:
		err = st.advanceEpoch(e)
	default:
		panic(fmt.Sprintf("kernel: unrecognized event variant %T", ev))
	}

	if err != nil {
		if !errors.Is(err, gas.ErrExhausted) {
			panic(fmt.Sprintf("kernel: unexpected handler error: %v", err))
		}
		return k.fail(ctx, ev, index, models.FailureGasExhausted, st.meter, err)
	}
	if st.failure != models.FailureNone {
		return k.fail(ctx, ev, index, st.failure, st.meter, nil)
	}

	if st.mutated {
		if err := st.meter.Charge(gas.OpHash, 1); err != nil {
			return k.fail(ctx, ev, index, models.FailureGasExhausted, st.meter, err)
		}
		st.state.StateID = st.state.ComputeID()
		k.state = st.state
		k.index = st.index
	}

	result := k.seal(st.outputs, index)
	if ev.Type() == models.EventActionRequest && refused(result) {
		if kind := k.Classify(); kind != models.DeadlockNone {
			result.Deadlock = kind
		}
	}

	k.observe(ctx, ev, result, st)
	return result
}

// begin prepares a scratch copy of the committed state for one event.
func (k *Kernel) begin(t models.EventType, index int) *step {
	return &step{
		state:                 k.state.Clone(),
		index:                 k.index,
		meter:                 gas.NewMeter(k.schedule, t),
		eventIndex:            index,
		allowScopedResolution: k.allowScopedResolution,
	}
}

// seal stamps the committed state hash on every pending output.
func (k *Kernel) seal(pending []models.KernelOutput, index int) models.KernelResult {
	outs := make([]models.KernelOutput, len(pending))
	for i, o := range pending {
		o.EventIndex = index
		o.StateHash = k.state.StateID
		if o.Details == nil {
			o.Details = map[string]any{}
		}
		outs[i] = o
	}
	result := models.KernelResult{
		Output:   outs[0],
		NewState: k.state.Clone(),
	}
	if len(outs) > 1 {
		result.AuxiliaryOutputs = outs[1:]
	}
	return result
}

func refused(r models.KernelResult) bool {
	for _, o := range r.Outputs() {
		if o.OutputType == models.OutputActionRefused {
			return true
		}
	}
	return false
}

// fail discards the scratch state and reports an event-level failure.
func (k *Kernel) fail(ctx context.Context, ev models.Event, index int, code models.FailureCode, meter *gas.Meter, cause error) models.KernelResult {
	outputType := models.OutputActionRefused
	if ev.Type() == models.EventDestructionAuthorization {
		outputType = models.OutputDestructionRefused
	}
	details := map[string]any{
		models.DetailReason:    string(code),
		models.DetailEventType: string(ev.Type()),
		"gas_consumed":         meter.Consumed(),
		"gas_budget":           meter.Budget(),
	}
	if adv, ok := ev.(models.EpochAdvancement); ok {
		details["current_epoch"] = k.state.Epoch
		details["target_epoch"] = adv.TargetEpoch
	}
	result := k.seal([]models.KernelOutput{{OutputType: outputType, Details: details}}, index)
	result.Failure = code

	k.metrics.IncrementFailure(string(code))
	if k.logger != nil {
		k.logger.WarnContext(ctx, "event failed",
			"event_type", ev.Type(),
			"event_index", index,
			"failure", code,
			"gas_consumed", meter.Consumed(),
			"state_hash", k.state.StateID,
			"error", cause,
		)
	}
	return result
}

func (k *Kernel) observe(ctx context.Context, ev models.Event, result models.KernelResult, st *step) {
	k.metrics.ObserveEvent(string(ev.Type()), string(result.Output.OutputType), st.meter.Consumed())
	k.metrics.SetEpoch(k.state.Epoch)
	for _, o := range result.Outputs() {
		switch o.OutputType {
		case models.OutputConflictRegistered:
			k.metrics.IncrementConflicts()
		case models.OutputAuthorityDestroyed:
			k.metrics.AddDestroyed(1)
		case models.OutputAuthorityExpired:
			k.metrics.AddExpired(1)
		}
	}

	if k.logger == nil {
		return
	}
	k.logger.DebugContext(ctx, "event processed",
		"event_type", ev.Type(),
		"event_index", result.Output.EventIndex,
		"output_type", result.Output.OutputType,
		"state_hash", result.Output.StateHash,
		"gas_consumed", st.meter.Consumed(),
	)
	for _, o := range result.Outputs() {
		switch o.OutputType {
		case models.OutputConflictRegistered, models.OutputAuthorityDestroyed,
			models.OutputAuthorityRenewed, models.OutputAuthorityExpired:
			k.logger.InfoContext(ctx, string(o.OutputType),
				"event_index", o.EventIndex,
				"state_hash", o.StateHash,
				"details", o.Details,
			)
		}
	}
}

// step is the per-event execution context: a scratch state, its index, the
// gas meter, and the outputs emitted so far.
type step struct {
	state      *models.State
	index      *scope.Index
	meter      *gas.Meter
	eventIndex int

	allowScopedResolution bool

	outputs []models.KernelOutput
	mutated bool
	failure models.FailureCode
}

func (s *step) emit(t models.OutputType, details map[string]any) error {
	if err := s.meter.Charge(gas.OpLogAppend, 1); err != nil {
		return err
	}
	s.outputs = append(s.outputs, models.KernelOutput{OutputType: t, Details: details})
	return nil
}

// refuse emits a scoped refusal. Refusals never fail the event.
func (s *step) refuse(t models.OutputType, reason models.ReasonCode, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details[models.DetailReason] = string(reason)
	return s.emit(t, details)
}

// touch marks the scratch state as changed and bills the update.
func (s *step) touch() error {
	s.mutated = true
	return s.meter.Charge(gas.OpStateUpdate, 1)
}

// rebuildIndex re-derives the scope index from the scratch state.
func (s *step) rebuildIndex() error {
	if err := s.meter.Charge(gas.OpScan, len(s.state.Authorities)); err != nil {
		return err
	}
	s.index = scope.Build(s.state)
	return nil
}
