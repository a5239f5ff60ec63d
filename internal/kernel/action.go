package kernel

import (
	"authkernel/internal/kernel/gas"
	"authkernel/internal/kernel/models"
	pstrings "authkernel/pkg/platform/strings"
)

func (s *step) requestAction(ev models.ActionRequest) error {
	ok, err := s.admit(ev.RequestID, ev.RequesterHolderID, ev.Action, ev.TransformationType)
	if err != nil || !ok {
		return err
	}
	return s.emit(models.OutputActionExecuted, map[string]any{
		models.DetailRequestID:      string(ev.RequestID),
		models.DetailTransformation: ev.TransformationType,
		"scope":                     models.ScopeKeys(models.NormalizeScope(ev.Action)),
	})
}

// admit runs the admissibility pipeline shared by action and transformation
// requests. It returns true when every element is admissible for requester.
// Otherwise it has already emitted the refusal, preceded by
// CONFLICT_REGISTERED when the request exposed divergent authority.
//
// Order of checks:
//  1. any element under an OPEN conflict refuses CONFLICT_BLOCKS;
//  2. divergent elements register one conflict and refuse CONFLICT_BLOCKS;
//  3. any element without a permit refuses NO_AUTHORITY.
func (s *step) admit(req models.RequestID, requester models.HolderID, elems []models.ScopeElement, transformation string) (bool, error) {
	elems = models.NormalizeScope(elems)
	details := func() map[string]any {
		return map[string]any{
			models.DetailRequestID:      string(req),
			models.DetailTransformation: transformation,
		}
	}

	if len(elems) == 0 {
		return false, s.refuse(models.OutputActionRefused, models.ReasonNoAuthority, details())
	}

	open := s.state.OpenConflicts()
	for _, e := range elems {
		if err := s.meter.Charge(gas.OpMembership, len(open)); err != nil {
			return false, err
		}
		if c, ok := s.state.OpenConflictCovering(e); ok {
			d := details()
			d[models.DetailConflictID] = string(c.ID)
			d[models.DetailScopeElement] = e.String()
			return false, s.refuse(models.OutputActionRefused, models.ReasonConflictBlocks, d)
		}
	}

	var (
		divergent    []models.ScopeElement
		participants []models.AuthorityID
		unpermitted  *models.ScopeElement
	)
	for i, e := range elems {
		adm, err := Evaluate(s.state, s.index, s.meter, e, transformation, requester)
		if err != nil {
			return false, err
		}
		switch {
		case adm.Conflicting():
			divergent = append(divergent, e)
			participants = append(participants, adm.Participants...)
		case !adm.HasPermit && unpermitted == nil:
			unpermitted = &elems[i]
		}
	}

	if len(divergent) > 0 {
		c, err := s.registerConflict(divergent, participants, transformation)
		if err != nil {
			return false, err
		}
		d := details()
		d[models.DetailConflictID] = string(c.ID)
		return false, s.refuse(models.OutputActionRefused, models.ReasonConflictBlocks, d)
	}
	if unpermitted != nil {
		d := details()
		d[models.DetailScopeElement] = unpermitted.String()
		return false, s.refuse(models.OutputActionRefused, models.ReasonNoAuthority, d)
	}
	return true, nil
}

// registerConflict records a new OPEN conflict for the divergent elements.
// Participants are exactly the ACTIVE authorities that covered them.
func (s *step) registerConflict(scope []models.ScopeElement, participants []models.AuthorityID, transformation string) (*models.Conflict, error) {
	c := models.NewConflict(scope, participants, transformation, s.state.Epoch)
	if err := s.meter.Charge(gas.OpHash, 1); err != nil {
		return nil, err
	}
	for gen := 1; s.state.Conflicts[c.ID] != nil; gen++ {
		if err := s.meter.Charge(gas.OpHash, 1); err != nil {
			return nil, err
		}
		c.ID = models.ConflictIDAt(c.Participants, c.Scope, gen)
	}

	s.state.Conflicts[c.ID] = c
	if err := s.touch(); err != nil {
		return nil, err
	}
	return c, s.emit(models.OutputConflictRegistered, map[string]any{
		models.DetailConflictID:     string(c.ID),
		models.DetailAuthorityIDs:   pstrings.ToStrings(c.Participants),
		models.DetailTransformation: c.TransformationType,
		"scope":                     models.ScopeKeys(c.Scope),
		"detected_epoch":            c.DetectedEpoch,
	})
}
