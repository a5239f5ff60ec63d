package kernel

import (
	"authkernel/internal/kernel/gas"
	"authkernel/internal/kernel/models"
	pstrings "authkernel/pkg/platform/strings"
)

// authorizeDestruction applies the external resolution instruction. The
// kernel never picks targets itself: it validates the supplied set and voids
// exactly that set.
func (s *step) authorizeDestruction(ev models.DestructionAuthorization) error {
	details := func() map[string]any {
		return map[string]any{
			models.DetailConflictID: string(ev.ConflictID),
			"authorizer_id":         ev.AuthorizerID,
			"nonce":                 ev.Nonce,
		}
	}

	if s.state.DestructionAuthorized {
		return s.refuse(models.OutputDestructionRefused, models.ReasonAmbiguousDestruction, details())
	}

	if err := s.meter.Charge(gas.OpMembership, 1); err != nil {
		return err
	}
	c, ok := s.state.Conflicts[ev.ConflictID]
	if !ok || !c.IsOpen() {
		return s.refuse(models.OutputDestructionRefused, models.ReasonConflictNotFound, details())
	}

	targets, reason, culprit, err := s.destructionTargets(c, ev)
	if err != nil {
		return err
	}
	if reason != "" {
		d := details()
		if culprit != "" {
			d[models.DetailAuthorityID] = string(culprit)
		}
		return s.refuse(models.OutputDestructionRefused, reason, d)
	}

	s.state.DestructionAuthorized = true
	return s.destroy(c, targets, models.DestructionRecord{
		ConflictID:   c.ID,
		AuthorizerID: ev.AuthorizerID,
		Nonce:        ev.Nonce,
		Source:       models.SourceExternalAuthorization,
	})
}

// destructionTargets resolves the ALL sentinel to the conflict's ACTIVE
// participants and checks explicit targets. Explicit targets must be
// participants of the conflict and currently ACTIVE.
func (s *step) destructionTargets(c *models.Conflict, ev models.DestructionAuthorization) ([]models.AuthorityID, models.ReasonCode, models.AuthorityID, error) {
	if ev.TargetsAll() {
		var targets []models.AuthorityID
		for _, id := range c.Participants {
			if err := s.meter.Charge(gas.OpMembership, 1); err != nil {
				return nil, "", "", err
			}
			if a := s.state.Authorities[id]; a != nil && a.IsActive() {
				targets = append(targets, id)
			}
		}
		if len(targets) == 0 {
			return nil, models.ReasonAlreadyVoid, "", nil
		}
		return targets, "", "", nil
	}

	targets := pstrings.SortedUnique(ev.TargetAuthorityIDs)
	if len(targets) == 0 {
		return nil, models.ReasonAuthorityNotFound, "", nil
	}
	for _, id := range targets {
		if err := s.meter.Charge(gas.OpMembership, 2); err != nil {
			return nil, "", "", err
		}
		a, ok := s.state.Authorities[id]
		if !ok || !c.HasParticipant(id) {
			return nil, models.ReasonAuthorityNotFound, id, nil
		}
		if !a.IsActive() {
			return nil, models.ReasonAlreadyVoid, id, nil
		}
	}
	return targets, "", "", nil
}

// destroy voids every target, resolves the conflict, and rebuilds the index.
// Each target gets its own destruction index and its own output.
func (s *step) destroy(c *models.Conflict, targets []models.AuthorityID, record models.DestructionRecord) error {
	for _, id := range targets {
		a := s.state.Authorities[id]
		if !a.Status.CanTransitionTo(models.StatusVoid) {
			panic("kernel: destroy called on authority " + string(id) + " in status " + string(a.Status))
		}
		rec := record
		rec.Index = s.state.DestructionCount
		a.Status = models.StatusVoid
		a.Metadata.Destruction = &rec
		s.state.DestructionCount++
		if err := s.touch(); err != nil {
			return err
		}
		if err := s.emit(models.OutputAuthorityDestroyed, map[string]any{
			models.DetailAuthorityID: string(id),
			models.DetailConflictID:  string(c.ID),
			"destruction_index":      rec.Index,
			"authorizer_id":          rec.AuthorizerID,
			"nonce":                  rec.Nonce,
			"source":                 string(rec.Source),
		}); err != nil {
			return err
		}
	}

	c.Status = models.ConflictResolved
	if err := s.touch(); err != nil {
		return err
	}
	return s.rebuildIndex()
}
