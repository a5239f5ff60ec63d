package models

import (
	"sort"

	"authkernel/pkg/canonical"
)

// State is the kernel's aggregate root. It is owned by exactly one kernel and
// mutated only through its dispatch path.
type State struct {
	Epoch                 uint64                     `json:"epoch"`
	Authorities           map[AuthorityID]*Authority `json:"authorities"`
	Conflicts             map[ConflictID]*Conflict   `json:"conflicts"`
	Deadlock              bool                       `json:"deadlock"`
	DeadlockKind          DeadlockKind               `json:"deadlock_kind"`
	DestructionCount      int                        `json:"destruction_count"`
	DestructionAuthorized bool                       `json:"destruction_authorized"`
	StateID               string                     `json:"-"`
}

// NewState returns an empty state at the given epoch with its state ID set.
func NewState(epoch uint64) *State {
	s := &State{
		Epoch:        epoch,
		Authorities:  make(map[AuthorityID]*Authority),
		Conflicts:    make(map[ConflictID]*Conflict),
		DeadlockKind: DeadlockNone,
	}
	s.StateID = s.ComputeID()
	return s
}

// ComputeID returns the canonical hash of every field except StateID itself.
func (s *State) ComputeID() string {
	return canonical.MustHash(s)
}

// Clone returns a deep copy that shares no records with s.
func (s *State) Clone() *State {
	c := *s
	c.Authorities = make(map[AuthorityID]*Authority, len(s.Authorities))
	for id, a := range s.Authorities {
		c.Authorities[id] = a.Clone()
	}
	c.Conflicts = make(map[ConflictID]*Conflict, len(s.Conflicts))
	for id, cf := range s.Conflicts {
		c.Conflicts[id] = cf.Clone()
	}
	return &c
}

// AuthorityIDs returns every authority ID in canonical order.
func (s *State) AuthorityIDs() []AuthorityID {
	ids := make([]AuthorityID, 0, len(s.Authorities))
	for id := range s.Authorities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ConflictIDs returns every conflict ID in canonical order.
func (s *State) ConflictIDs() []ConflictID {
	ids := make([]ConflictID, 0, len(s.Conflicts))
	for id := range s.Conflicts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ActiveAuthorities returns ACTIVE authorities in canonical ID order.
func (s *State) ActiveAuthorities() []*Authority {
	var out []*Authority
	for _, id := range s.AuthorityIDs() {
		if a := s.Authorities[id]; a.IsActive() {
			out = append(out, a)
		}
	}
	return out
}

// OpenConflicts returns OPEN conflicts in canonical ID order.
func (s *State) OpenConflicts() []*Conflict {
	var out []*Conflict
	for _, id := range s.ConflictIDs() {
		if c := s.Conflicts[id]; c.IsOpen() {
			out = append(out, c)
		}
	}
	return out
}

// OpenConflictCovering returns the first OPEN conflict (by ID) whose scope
// contains elem.
func (s *State) OpenConflictCovering(elem ScopeElement) (*Conflict, bool) {
	for _, c := range s.OpenConflicts() {
		if c.Covers(elem) {
			return c, true
		}
	}
	return nil, false
}

// CountByStatus tallies authorities per status.
func (s *State) CountByStatus() map[AuthorityStatus]int {
	counts := make(map[AuthorityStatus]int)
	for _, a := range s.Authorities {
		counts[a.Status]++
	}
	return counts
}
