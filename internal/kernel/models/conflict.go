package models

import (
	"authkernel/pkg/canonical"
	pstrings "authkernel/pkg/platform/strings"
)

// ConflictID is a pure function of a conflict's participants and scope.
type ConflictID string

// ConflictStatus is the lifecycle state of a conflict.
type ConflictStatus string

const (
	// ConflictOpen blocks admissibility on the conflict's scope.
	ConflictOpen ConflictStatus = "OPEN"
	// ConflictResolved was closed by destruction.
	ConflictResolved ConflictStatus = "RESOLVED"
	// ConflictOpenNonbinding was superseded by an epoch change without being
	// resolved. It no longer blocks, and it never suppresses registration of
	// a later conflict on the same scope.
	ConflictOpenNonbinding ConflictStatus = "OPEN_NONBINDING"
)

// Conflict records where admissibility diverged and which ACTIVE authorities
// took part at detection time. Only Status ever changes.
type Conflict struct {
	ID                 ConflictID     `json:"conflict_id"`
	Scope              []ScopeElement `json:"scope"`
	Participants       []AuthorityID  `json:"participants"`
	TransformationType string         `json:"transformation_type"`
	DetectedEpoch      uint64         `json:"detected_epoch"`
	Status             ConflictStatus `json:"status"`
}

// NewConflict builds an OPEN conflict with canonically ordered participants
// and scope and a content-derived ID.
func NewConflict(scope []ScopeElement, participants []AuthorityID, transformation string, epoch uint64) *Conflict {
	scope = NormalizeScope(scope)
	participants = pstrings.SortedUnique(participants)
	return &Conflict{
		ID:                 ConflictIDFor(participants, scope),
		Scope:              scope,
		Participants:       participants,
		TransformationType: transformation,
		DetectedEpoch:      epoch,
		Status:             ConflictOpen,
	}
}

// ConflictIDFor derives the ID from canonically ordered participants and
// scope, so independent replays converge on the same identifier.
func ConflictIDFor(participants []AuthorityID, scope []ScopeElement) ConflictID {
	return ConflictIDAt(participants, scope, 0)
}

// ConflictIDAt is ConflictIDFor with a generation counter, used when an
// earlier conflict with identical content has already left the OPEN state.
// Generation 0 hashes exactly like ConflictIDFor.
func ConflictIDAt(participants []AuthorityID, scope []ScopeElement, generation int) ConflictID {
	digest := canonical.MustHash(struct {
		Participants []AuthorityID  `json:"participants"`
		Scope        []ScopeElement `json:"scope"`
		Generation   int            `json:"generation,omitempty"`
	}{
		Participants: pstrings.SortedUnique(participants),
		Scope:        NormalizeScope(scope),
		Generation:   generation,
	})
	return ConflictID("conflict_" + digest[:16])
}

// IsOpen reports whether the conflict still blocks its scope.
func (c *Conflict) IsOpen() bool {
	return c.Status == ConflictOpen
}

// Covers reports whether elem is part of the conflict's scope.
func (c *Conflict) Covers(elem ScopeElement) bool {
	for _, e := range c.Scope {
		if e == elem {
			return true
		}
	}
	return false
}

// HasParticipant reports whether id took part in the conflict.
func (c *Conflict) HasParticipant(id AuthorityID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *Conflict) Clone() *Conflict {
	cp := *c
	cp.Scope = append([]ScopeElement(nil), c.Scope...)
	cp.Participants = append([]AuthorityID(nil), c.Participants...)
	return &cp
}
