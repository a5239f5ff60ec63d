package models

// OutputType is the closed set of kernel output kinds.
type OutputType string

const (
	OutputAuthorityInjected    OutputType = "AUTHORITY_INJECTED"
	OutputAuthorityTransformed OutputType = "AUTHORITY_TRANSFORMED"
	OutputAuthorityExpired     OutputType = "AUTHORITY_EXPIRED"
	OutputAuthorityDestroyed   OutputType = "AUTHORITY_DESTROYED"
	OutputAuthorityRenewed     OutputType = "AUTHORITY_RENEWED"
	OutputConflictRegistered   OutputType = "CONFLICT_REGISTERED"
	OutputActionExecuted       OutputType = "ACTION_EXECUTED"
	OutputActionRefused        OutputType = "ACTION_REFUSED"
	OutputDestructionRefused   OutputType = "DESTRUCTION_REFUSED"
	OutputDeadlockDeclared     OutputType = "DEADLOCK_DECLARED"
	OutputDeadlockPersisted    OutputType = "DEADLOCK_PERSISTED"
)

// ReasonCode classifies a refusal. Scoped refusals are recoverable: the caller
// may submit a different event next.
type ReasonCode string

const (
	ReasonNoAuthority          ReasonCode = "NO_AUTHORITY"
	ReasonConflictBlocks       ReasonCode = "CONFLICT_BLOCKS"
	ReasonAuthorityNotFound    ReasonCode = "AUTHORITY_NOT_FOUND"
	ReasonAlreadyVoid          ReasonCode = "ALREADY_VOID"
	ReasonConflictNotFound     ReasonCode = "CONFLICT_NOT_FOUND"
	ReasonAmbiguousDestruction ReasonCode = "AMBIGUOUS_DESTRUCTION"

	ReasonInvalidAuthority         ReasonCode = "INVALID_AUTHORITY"
	ReasonDuplicateAuthorityID     ReasonCode = "DUPLICATE_AUTHORITY_ID"
	ReasonRenewalNotPermitted      ReasonCode = "RENEWAL_NOT_PERMITTED"
	ReasonUnknownTransformation    ReasonCode = "UNKNOWN_TRANSFORMATION"
	ReasonInvalidTransition        ReasonCode = "INVALID_TRANSITION"
	ReasonScopedResolutionDisabled ReasonCode = "SCOPED_RESOLUTION_DISABLED"
)

// FailureCode marks an event that failed as a whole. State is never changed
// by a failed event.
type FailureCode string

const (
	FailureNone FailureCode = ""
	// FailureGasExhausted aborts only the current event.
	FailureGasExhausted FailureCode = "GAS_EXHAUSTED"
	// FailureNondeterministicExecution means the caller broke epoch
	// continuity; the run should be treated as invalid.
	FailureNondeterministicExecution FailureCode = "NONDETERMINISTIC_EXECUTION"
)

// DeadlockKind is a terminal classification of the state.
type DeadlockKind string

const (
	DeadlockNone       DeadlockKind = "NONE"
	EntropicCollapse   DeadlockKind = "ENTROPIC_COLLAPSE"
	ConflictDeadlock   DeadlockKind = "CONFLICT_DEADLOCK"
	GovernanceDeadlock DeadlockKind = "GOVERNANCE_DEADLOCK"
)

// Governance transformation types understood by TransformationRequest.
const (
	TransformSuspend         = "SUSPEND_AUTHORITY"
	TransformResume          = "RESUME_AUTHORITY"
	TransformRevoke          = "REVOKE_AUTHORITY"
	TransformResolveConflict = "RESOLVE_CONFLICT"
)

// Detail keys shared by outputs.
const (
	DetailReason         = "reason"
	DetailAuthorityID    = "authority_id"
	DetailAuthorityIDs   = "authority_ids"
	DetailConflictID     = "conflict_id"
	DetailRequestID      = "request_id"
	DetailEventType      = "event_type"
	DetailDeadlockType   = "deadlock_type"
	DetailScopeElement   = "scope_element"
	DetailTransformation = "transformation"
)

// KernelOutput is one entry in the kernel's output stream.
type KernelOutput struct {
	OutputType OutputType     `json:"output_type"`
	EventIndex int            `json:"event_index"`
	StateHash  string         `json:"state_hash"`
	Details    map[string]any `json:"details"`
}

// Reason returns the refusal reason carried in Details, if any.
func (o KernelOutput) Reason() ReasonCode {
	switch r := o.Details[DetailReason].(type) {
	case ReasonCode:
		return r
	case string:
		return ReasonCode(r)
	}
	return ""
}

// KernelResult is everything one processed event produced.
type KernelResult struct {
	Output           KernelOutput   `json:"output"`
	AuxiliaryOutputs []KernelOutput `json:"auxiliary_outputs,omitempty"`
	Failure          FailureCode    `json:"failure,omitempty"`
	Deadlock         DeadlockKind   `json:"deadlock,omitempty"`
	// NewState is a snapshot; mutating it does not affect the kernel.
	NewState *State `json:"-"`
}

// Outputs returns the primary output followed by the auxiliary outputs, in
// emission order.
func (r KernelResult) Outputs() []KernelOutput {
	out := make([]KernelOutput, 0, 1+len(r.AuxiliaryOutputs))
	out = append(out, r.Output)
	return append(out, r.AuxiliaryOutputs...)
}

// Failed reports whether the event failed as a whole.
func (r KernelResult) Failed() bool {
	return r.Failure != FailureNone
}
