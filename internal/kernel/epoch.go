package kernel

import (
	"math"

	"authkernel/internal/kernel/gas"
	"authkernel/internal/kernel/models"
	pstrings "authkernel/pkg/platform/strings"
)

// advanceEpoch moves the epoch by exactly one and runs the eager expiry
// sweep. Any other target breaks epoch continuity and fails the event without
// touching state.
func (s *step) advanceEpoch(ev models.EpochAdvancement) error {
	prev := s.state.Epoch
	if prev == math.MaxUint64 || ev.TargetEpoch != prev+1 {
		s.failure = models.FailureNondeterministicExecution
		return nil
	}

	s.state.Epoch = ev.TargetEpoch
	if err := s.touch(); err != nil {
		return err
	}

	expired, err := s.sweepExpired()
	if err != nil {
		return err
	}
	if err := s.rebuildIndex(); err != nil {
		return err
	}
	nonbinding, err := s.supersedeConflicts(expired)
	if err != nil {
		return err
	}

	if err := s.emit(models.OutputActionExecuted, map[string]any{
		models.DetailEventType:    string(models.EventEpochAdvancement),
		"epoch":                   s.state.Epoch,
		"previous_epoch":          prev,
		"expired_authority_ids":   pstrings.ToStrings(expired),
		"nonbinding_conflict_ids": pstrings.ToStrings(nonbinding),
	}); err != nil {
		return err
	}
	for _, id := range expired {
		a := s.state.Authorities[id]
		if err := s.emit(models.OutputAuthorityExpired, map[string]any{
			models.DetailAuthorityID: string(id),
			"holder_id":              string(a.HolderID),
			"expiry_epoch":           *a.ExpiryEpoch,
			"epoch":                  s.state.Epoch,
		}); err != nil {
			return err
		}
	}
	return nil
}

// sweepExpired transitions every ACTIVE authority whose expiry is due to
// EXPIRED, in ID order, and returns the IDs it expired.
func (s *step) sweepExpired() ([]models.AuthorityID, error) {
	var expired []models.AuthorityID
	for _, a := range s.state.ActiveAuthorities() {
		if err := s.meter.Charge(gas.OpScan, 1); err != nil {
			return nil, err
		}
		if !a.ExpiresBy(s.state.Epoch) {
			continue
		}
		a.Status = models.StatusExpired
		a.Metadata.ExpiredAtEpoch = models.Epoch(s.state.Epoch)
		if err := s.touch(); err != nil {
			return nil, err
		}
		expired = append(expired, a.ID)
	}
	return expired, nil
}

// supersedeConflicts marks OPEN conflicts non-binding when this sweep left
// every participant non-ACTIVE. Conflicts whose participants were already
// gone for other reasons stay OPEN: only an epoch change supersedes.
func (s *step) supersedeConflicts(expired []models.AuthorityID) ([]models.ConflictID, error) {
	if len(expired) == 0 {
		return nil, nil
	}
	swept := make(map[models.AuthorityID]struct{}, len(expired))
	for _, id := range expired {
		swept[id] = struct{}{}
	}

	var superseded []models.ConflictID
	for _, c := range s.state.OpenConflicts() {
		if err := s.meter.Charge(gas.OpMembership, len(c.Participants)); err != nil {
			return nil, err
		}
		anyActive, anySwept := false, false
		for _, id := range c.Participants {
			if a := s.state.Authorities[id]; a != nil && a.IsActive() {
				anyActive = true
			}
			if _, ok := swept[id]; ok {
				anySwept = true
			}
		}
		if anyActive || !anySwept {
			continue
		}
		c.Status = models.ConflictOpenNonbinding
		if err := s.touch(); err != nil {
			return nil, err
		}
		superseded = append(superseded, c.ID)
	}
	return superseded, nil
}
