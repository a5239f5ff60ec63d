package models

import (
	"encoding/json"
	"fmt"
)

// RequestID correlates a request event with its outputs.
type RequestID string

// EventType names an Event variant on the wire.
type EventType string

const (
	EventAuthorityInjection       EventType = "AUTHORITY_INJECTION"
	EventActionRequest            EventType = "ACTION_REQUEST"
	EventTransformationRequest    EventType = "TRANSFORMATION_REQUEST"
	EventDestructionAuthorization EventType = "DESTRUCTION_AUTHORIZATION"
	EventEpochAdvancement         EventType = "EPOCH_ADVANCEMENT"
)

// Event is the closed set of inputs the kernel accepts. The unexported marker
// keeps variants inside this package.
type Event interface {
	Type() EventType
	isEvent()
}

// AuthorityInjection creates an authority. A record whose metadata names a
// predecessor in RenewalOf is a renewal.
type AuthorityInjection struct {
	Authority Authority `json:"authority"`
}

// ActionRequest asks whether requester may apply TransformationType to every
// element of Action.
type ActionRequest struct {
	RequestID          RequestID      `json:"request_id"`
	RequesterHolderID  HolderID       `json:"requester_holder_id"`
	Action             []ScopeElement `json:"action"`
	TransformationType string         `json:"transformation_type"`
}

// TransformationTargets selects what a structural transformation acts on.
type TransformationTargets struct {
	AuthorityIDs  []AuthorityID  `json:"authority_ids,omitempty"`
	ScopeElements []ScopeElement `json:"scope_elements,omitempty"`
	ConflictIDs   []ConflictID   `json:"conflict_ids,omitempty"`
}

// TransformationRequest asks for a structural change to authorities.
type TransformationRequest struct {
	RequestID         RequestID             `json:"request_id"`
	RequesterHolderID HolderID              `json:"requester_holder_id"`
	Transformation    string                `json:"transformation"`
	Targets           TransformationTargets `json:"targets"`
}

// TargetAll is the sentinel target meaning every participant of the conflict.
const TargetAll AuthorityID = "ALL"

// DestructionAuthorization is the external instruction that resolves a
// conflict by voiding the named authorities.
//
// The ALL target selects the conflict's participants that are still ACTIVE;
// participants that already expired or were voided are skipped rather than
// failing the event. It is refused ALREADY_VOID only when no participant is
// ACTIVE. Explicitly named targets must each be an ACTIVE participant.
type DestructionAuthorization struct {
	ConflictID         ConflictID    `json:"conflict_id"`
	TargetAuthorityIDs []AuthorityID `json:"target_authority_ids"`
	AuthorizerID       string        `json:"authorizer_id"`
	Nonce              string        `json:"nonce"`
}

// TargetsAll reports whether the target set is the ALL sentinel.
func (d DestructionAuthorization) TargetsAll() bool {
	for _, id := range d.TargetAuthorityIDs {
		if id == TargetAll {
			return true
		}
	}
	return false
}

// EpochAdvancement moves the epoch to TargetEpoch, which must be current+1.
type EpochAdvancement struct {
	TargetEpoch uint64 `json:"target_epoch"`
}

func (AuthorityInjection) Type() EventType       { return EventAuthorityInjection }
func (ActionRequest) Type() EventType            { return EventActionRequest }
func (TransformationRequest) Type() EventType    { return EventTransformationRequest }
func (DestructionAuthorization) Type() EventType { return EventDestructionAuthorization }
func (EpochAdvancement) Type() EventType         { return EventEpochAdvancement }

func (AuthorityInjection) isEvent()       {}
func (ActionRequest) isEvent()            {}
func (TransformationRequest) isEvent()    {}
func (DestructionAuthorization) isEvent() {}
func (EpochAdvancement) isEvent()         {}

type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEvent writes e as a {"type", "payload"} envelope.
func EncodeEvent(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Type(), err)
	}
	return json.Marshal(envelope{Type: e.Type(), Payload: payload})
}

// DecodeEvent parses an envelope produced by EncodeEvent. Unknown types are an
// input error, not a contract violation, because event logs are external data.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	var (
		ev  Event
		err error
	)
	switch env.Type {
	case EventAuthorityInjection:
		var e AuthorityInjection
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case EventActionRequest:
		var e ActionRequest
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case EventTransformationRequest:
		var e TransformationRequest
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case EventDestructionAuthorization:
		var e DestructionAuthorization
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	case EventEpochAdvancement:
		var e EpochAdvancement
		err = json.Unmarshal(env.Payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return ev, nil
}
