package kernel

import (
	"authkernel/internal/kernel/gas"
	"authkernel/internal/kernel/models"
	pstrings "authkernel/pkg/platform/strings"
)

// lifecycle maps each governance transformation to the status it produces.
var lifecycle = map[string]models.AuthorityStatus{
	models.TransformSuspend: models.StatusSuspended,
	models.TransformResume:  models.StatusActive,
	models.TransformRevoke:  models.StatusRevoked,
}

func (s *step) transform(ev models.TransformationRequest) error {
	if ev.Transformation == models.TransformResolveConflict {
		return s.resolveConflict(ev)
	}
	next, ok := lifecycle[ev.Transformation]
	if !ok {
		return s.refuse(models.OutputActionRefused, models.ReasonUnknownTransformation, s.transformDetails(ev))
	}

	targets := pstrings.SortedUnique(ev.Targets.AuthorityIDs)
	if len(targets) == 0 {
		return s.refuse(models.OutputActionRefused, models.ReasonAuthorityNotFound, s.transformDetails(ev))
	}

	var elems []models.ScopeElement
	for _, id := range targets {
		if err := s.meter.Charge(gas.OpMembership, 1); err != nil {
			return err
		}
		a, ok := s.state.Authorities[id]
		if !ok {
			d := s.transformDetails(ev)
			d[models.DetailAuthorityID] = string(id)
			return s.refuse(models.OutputActionRefused, models.ReasonAuthorityNotFound, d)
		}
		if !a.Status.CanTransitionTo(next) || (next == models.StatusActive && a.ExpiresBy(s.state.Epoch)) {
			d := s.transformDetails(ev)
			d[models.DetailAuthorityID] = string(id)
			d["status"] = string(a.Status)
			return s.refuse(models.OutputActionRefused, models.ReasonInvalidTransition, d)
		}
		elems = append(elems, a.Scope...)
	}
	elems = append(elems, ev.Targets.ScopeElements...)

	ok, err := s.admit(ev.RequestID, ev.RequesterHolderID, elems, ev.Transformation)
	if err != nil || !ok {
		return err
	}

	for _, id := range targets {
		a := s.state.Authorities[id]
		prev := a.Status
		a.Status = next
		if next == models.StatusRevoked {
			a.Metadata.Revocation = &models.RevocationRecord{
				RequestID:   ev.RequestID,
				RequesterID: ev.RequesterHolderID,
				Epoch:       s.state.Epoch,
			}
		}
		if err := s.touch(); err != nil {
			return err
		}
		d := s.transformDetails(ev)
		d[models.DetailAuthorityID] = string(id)
		d["from"] = string(prev)
		d["to"] = string(next)
		if err := s.emit(models.OutputAuthorityTransformed, d); err != nil {
			return err
		}
	}
	return s.rebuildIndex()
}

// resolveConflict is the scoped resolution path. The requester must hold an
// ACTIVE authority that permits RESOLVE_CONFLICT over the whole conflict
// scope; the targets to void are still supplied by the caller. It never
// counts as the run's external destruction authorization.
func (s *step) resolveConflict(ev models.TransformationRequest) error {
	if !s.allowScopedResolution {
		return s.refuse(models.OutputActionRefused, models.ReasonScopedResolutionDisabled, s.transformDetails(ev))
	}

	conflicts := pstrings.SortedUnique(ev.Targets.ConflictIDs)
	if len(conflicts) != 1 {
		return s.refuse(models.OutputActionRefused, models.ReasonConflictNotFound, s.transformDetails(ev))
	}
	if err := s.meter.Charge(gas.OpMembership, 1); err != nil {
		return err
	}
	c, ok := s.state.Conflicts[conflicts[0]]
	if !ok || !c.IsOpen() {
		d := s.transformDetails(ev)
		d[models.DetailConflictID] = string(conflicts[0])
		return s.refuse(models.OutputActionRefused, models.ReasonConflictNotFound, d)
	}

	resolver, err := s.resolverFor(c, ev.RequesterHolderID)
	if err != nil {
		return err
	}
	if resolver == nil {
		d := s.transformDetails(ev)
		d[models.DetailConflictID] = string(c.ID)
		return s.refuse(models.OutputActionRefused, models.ReasonNoAuthority, d)
	}

	targets, reason, culprit, err := s.destructionTargets(c, models.DestructionAuthorization{
		ConflictID:         c.ID,
		TargetAuthorityIDs: ev.Targets.AuthorityIDs,
	})
	if err != nil {
		return err
	}
	if reason != "" {
		d := s.transformDetails(ev)
		d[models.DetailConflictID] = string(c.ID)
		if culprit != "" {
			d[models.DetailAuthorityID] = string(culprit)
		}
		return s.refuse(models.OutputActionRefused, reason, d)
	}

	return s.destroy(c, targets, models.DestructionRecord{
		ConflictID:   c.ID,
		AuthorizerID: string(resolver.HolderID),
		Nonce:        string(ev.RequestID),
		Source:       models.SourceScopedResolution,
	})
}

// resolverFor returns the requester's first ACTIVE authority (by ID) that can
// resolve c, or nil.
func (s *step) resolverFor(c *models.Conflict, requester models.HolderID) (*models.Authority, error) {
	active := s.state.ActiveAuthorities()
	if err := s.meter.Charge(gas.OpScan, len(active)); err != nil {
		return nil, err
	}
	for _, a := range active {
		if a.HolderID != requester {
			continue
		}
		if err := s.meter.Charge(gas.OpMembership, len(c.Scope)); err != nil {
			return nil, err
		}
		if a.Permits(models.TransformResolveConflict) && a.CoversAll(c.Scope) {
			return a, nil
		}
	}
	return nil, nil
}

func (s *step) transformDetails(ev models.TransformationRequest) map[string]any {
	return map[string]any{
		models.DetailEventType:      string(models.EventTransformationRequest),
		models.DetailRequestID:      string(ev.RequestID),
		models.DetailTransformation: ev.Transformation,
	}
}
