package kernel

import (
	"authkernel/internal/kernel/gas"
	"authkernel/internal/kernel/models"
)

// inject takes ownership of a copy of the supplied record. A record naming a
// predecessor in metadata.renewal_of is a renewal; it enters admissibility
// exactly like any other injection and carries no precedence.
func (s *step) inject(ev models.AuthorityInjection) error {
	a := ev.Authority.Clone()
	a.Normalize()
	if a.Status == "" {
		a.Status = models.StatusActive
	}
	a.CreatedEpoch = s.state.Epoch

	details := map[string]any{
		models.DetailEventType:   string(models.EventAuthorityInjection),
		models.DetailAuthorityID: string(a.ID),
	}

	if !s.validInjection(a) {
		return s.refuse(models.OutputActionRefused, models.ReasonInvalidAuthority, details)
	}

	if err := s.meter.Charge(gas.OpMembership, 1); err != nil {
		return err
	}
	if _, exists := s.state.Authorities[a.ID]; exists {
		return s.refuse(models.OutputActionRefused, models.ReasonDuplicateAuthorityID, details)
	}

	output := models.OutputAuthorityInjected
	if prior := a.Metadata.RenewalOf; prior != "" {
		if err := s.meter.Charge(gas.OpMembership, 1); err != nil {
			return err
		}
		p, ok := s.state.Authorities[prior]
		if !ok || (p.Status != models.StatusExpired && p.Status != models.StatusVoid) {
			details["renewal_of"] = string(prior)
			return s.refuse(models.OutputActionRefused, models.ReasonRenewalNotPermitted, details)
		}
		output = models.OutputAuthorityRenewed
	}

	s.state.Authorities[a.ID] = a
	if err := s.touch(); err != nil {
		return err
	}
	if err := s.rebuildIndex(); err != nil {
		return err
	}

	out := map[string]any{
		models.DetailAuthorityID: string(a.ID),
		"holder_id":              string(a.HolderID),
		"scope":                  models.ScopeKeys(a.Scope),
		"created_epoch":          a.CreatedEpoch,
	}
	if a.ExpiryEpoch != nil {
		out["expiry_epoch"] = *a.ExpiryEpoch
	}
	if a.Metadata.RenewalOf != "" {
		out["renewal_of"] = string(a.Metadata.RenewalOf)
	}
	return s.emit(output, out)
}

// validInjection rejects records that could not have been granted now:
// missing identity or scope, a non-ACTIVE status, an expiry that is already
// due, or metadata describing a terminal transition that never happened.
func (s *step) validInjection(a *models.Authority) bool {
	switch {
	case a.ID == "" || a.ID == models.TargetAll:
		return false
	case a.HolderID == "":
		return false
	case len(a.Scope) == 0:
		return false
	case a.Status != models.StatusActive:
		return false
	case a.ExpiresBy(s.state.Epoch):
		return false
	case a.Metadata.RenewalOf == a.ID:
		return false
	case a.Metadata.ExpiredAtEpoch != nil || a.Metadata.Destruction != nil || a.Metadata.Revocation != nil:
		return false
	}
	return true
}
