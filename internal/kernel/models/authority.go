package models

import (
	"sort"

	pstrings "authkernel/pkg/platform/strings"
)

// AuthorityID identifies an authority. IDs are never reused within a run.
type AuthorityID string

// HolderID identifies the entity an authority is granted to.
type HolderID string

// AuthorityStatus is the lifecycle state of an authority.
type AuthorityStatus string

const (
	StatusActive    AuthorityStatus = "ACTIVE"
	StatusSuspended AuthorityStatus = "SUSPENDED"
	StatusExpired   AuthorityStatus = "EXPIRED"
	StatusVoid      AuthorityStatus = "VOID"
	StatusRevoked   AuthorityStatus = "REVOKED"
)

// IsValid checks if the status is one of the supported enum values.
func (s AuthorityStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusExpired, StatusVoid, StatusRevoked:
		return true
	}
	return false
}

// IsTerminal reports whether the status can never change again.
func (s AuthorityStatus) IsTerminal() bool {
	return s == StatusExpired || s == StatusVoid || s == StatusRevoked
}

// CanTransitionTo enforces monotone lifecycle transitions. Only
// ACTIVE <-> SUSPENDED is reversible; terminal states are permanent.
func (s AuthorityStatus) CanTransitionTo(next AuthorityStatus) bool {
	switch s {
	case StatusActive:
		return next == StatusSuspended || next.IsTerminal()
	case StatusSuspended:
		return next == StatusActive || next == StatusRevoked
	}
	return false
}

// ScopeElement is an addressable unit of the action/state space.
type ScopeElement struct {
	Target    string `json:"target"`
	Operation string `json:"operation,omitempty"`
}

// String renders the element for output details. It is not an identity:
// {Target: "a/b"} and {Target: "a", Operation: "b"} render alike, so lookups
// and deduplication compare the struct itself.
func (e ScopeElement) String() string {
	if e.Operation == "" {
		return e.Target
	}
	return e.Target + "/" + e.Operation
}

// Less orders elements by target, then operation.
func (e ScopeElement) Less(other ScopeElement) bool {
	if e.Target != other.Target {
		return e.Target < other.Target
	}
	return e.Operation < other.Operation
}

// NormalizeScope returns a deduplicated copy of scope ordered by Less.
// Elements with an empty target are dropped.
func NormalizeScope(scope []ScopeElement) []ScopeElement {
	seen := make(map[ScopeElement]struct{}, len(scope))
	out := make([]ScopeElement, 0, len(scope))
	for _, e := range scope {
		if e.Target == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// ScopeKeys renders scope for output details, in order.
func ScopeKeys(scope []ScopeElement) []string {
	keys := make([]string, len(scope))
	for i, e := range scope {
		keys[i] = e.String()
	}
	return keys
}

// DestructionSource records which path voided an authority.
type DestructionSource string

const (
	SourceExternalAuthorization DestructionSource = "EXTERNAL_AUTHORIZATION"
	SourceScopedResolution      DestructionSource = "SCOPED_RESOLUTION"
)

// DestructionRecord explains a VOID transition.
type DestructionRecord struct {
	ConflictID   ConflictID        `json:"conflict_id"`
	AuthorizerID string            `json:"authorizer_id"`
	Nonce        string            `json:"nonce"`
	Index        int               `json:"destruction_index"`
	Source       DestructionSource `json:"source"`
}

// RevocationRecord explains a REVOKED transition.
type RevocationRecord struct {
	RequestID   RequestID `json:"request_id"`
	RequesterID HolderID  `json:"requester_id"`
	Epoch       uint64    `json:"epoch"`
}

// Metadata is owned by its Authority. Each field is written at most once.
type Metadata struct {
	RenewalOf      AuthorityID        `json:"renewal_of,omitempty"`
	ExpiredAtEpoch *uint64            `json:"expired_at_epoch,omitempty"`
	Destruction    *DestructionRecord `json:"destruction,omitempty"`
	Revocation     *RevocationRecord  `json:"revocation,omitempty"`
}

// Authority is a grant of a permitted-transformation set over a scope, held by
// one holder.
type Authority struct {
	ID                       AuthorityID     `json:"authority_id"`
	HolderID                 HolderID        `json:"holder_id"`
	Scope                    []ScopeElement  `json:"scope"`
	PermittedTransformations []string        `json:"permitted_transformation_set"`
	CreatedEpoch             uint64          `json:"created_epoch"`
	ExpiryEpoch              *uint64         `json:"expiry_epoch"`
	Status                   AuthorityStatus `json:"status"`
	Metadata                 Metadata        `json:"metadata"`
}

// Permits reports whether transformation is in the permitted set.
func (a *Authority) Permits(transformation string) bool {
	for _, t := range a.PermittedTransformations {
		if t == transformation {
			return true
		}
	}
	return false
}

// Covers reports whether the scope contains elem.
func (a *Authority) Covers(elem ScopeElement) bool {
	for _, e := range a.Scope {
		if e == elem {
			return true
		}
	}
	return false
}

// CoversAll reports whether the scope is a superset of scope.
func (a *Authority) CoversAll(scope []ScopeElement) bool {
	for _, e := range scope {
		if !a.Covers(e) {
			return false
		}
	}
	return true
}

// IsActive reports whether the authority participates in admissibility.
func (a *Authority) IsActive() bool {
	return a.Status == StatusActive
}

// ExpiresBy reports whether the authority's expiry falls at or before epoch.
func (a *Authority) ExpiresBy(epoch uint64) bool {
	return a.ExpiryEpoch != nil && *a.ExpiryEpoch <= epoch
}

// Normalize sorts and deduplicates scope and permitted transformations in
// place so that equal grants serialize identically.
func (a *Authority) Normalize() {
	a.Scope = NormalizeScope(a.Scope)
	a.PermittedTransformations = pstrings.SortedUnique(a.PermittedTransformations)
}

// Clone returns a deep copy that shares no memory with a.
func (a *Authority) Clone() *Authority {
	c := *a
	c.Scope = append([]ScopeElement(nil), a.Scope...)
	c.PermittedTransformations = append([]string(nil), a.PermittedTransformations...)
	if a.ExpiryEpoch != nil {
		v := *a.ExpiryEpoch
		c.ExpiryEpoch = &v
	}
	if a.Metadata.ExpiredAtEpoch != nil {
		v := *a.Metadata.ExpiredAtEpoch
		c.Metadata.ExpiredAtEpoch = &v
	}
	if a.Metadata.Destruction != nil {
		d := *a.Metadata.Destruction
		c.Metadata.Destruction = &d
	}
	if a.Metadata.Revocation != nil {
		r := *a.Metadata.Revocation
		c.Metadata.Revocation = &r
	}
	return &c
}

// Epoch returns a pointer to a copy of e, for optional epoch fields.
func Epoch(e uint64) *uint64 {
	return &e
}
