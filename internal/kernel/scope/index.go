// Package scope maps scope elements to the ACTIVE authorities covering them.
package scope

import (
	"sort"

	"authkernel/internal/kernel/models"
)

// Index is a read-only snapshot built from a state. It is rebuilt after every
// mutation rather than patched, so it can never drift from the records.
type Index struct {
	byKey map[models.ScopeElement][]models.AuthorityID
}

// Build indexes every ACTIVE authority in s. Per-element ID lists are sorted.
func Build(s *models.State) *Index {
	idx := &Index{byKey: make(map[models.ScopeElement][]models.AuthorityID)}
	for _, a := range s.ActiveAuthorities() {
		for _, e := range a.Scope {
			idx.byKey[e] = append(idx.byKey[e], a.ID)
		}
	}
	for k := range idx.byKey {
		ids := idx.byKey[k]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return idx
}

// Lookup returns the ACTIVE authority IDs covering elem, in canonical order.
// The returned slice must not be modified.
func (i *Index) Lookup(elem models.ScopeElement) []models.AuthorityID {
	return i.byKey[elem]
}

// Covered reports whether any ACTIVE authority covers elem.
func (i *Index) Covered(elem models.ScopeElement) bool {
	return len(i.byKey[elem]) > 0
}

// Size returns the number of indexed scope elements.
func (i *Index) Size() int {
	return len(i.byKey)
}
