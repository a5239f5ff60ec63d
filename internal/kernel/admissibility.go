package kernel

import (
	"authkernel/internal/kernel/gas"
	"authkernel/internal/kernel/models"
	"authkernel/internal/kernel/scope"
)

// Admissibility is the evaluator's verdict for one scope element.
type Admissibility struct {
	HasPermit    bool
	HasDeny      bool
	Participants []models.AuthorityID
}

// Admissible means at least one permit and no deny.
func (a Admissibility) Admissible() bool {
	return a.HasPermit && !a.HasDeny
}

// Conflicting means ACTIVE authorities disagree on the element.
func (a Admissibility) Conflicting() bool {
	return a.HasPermit && a.HasDeny
}

// Evaluate scans the ACTIVE authorities indexed for elem. An authority permits
// when transformation is in its permitted set and, if requester is non-empty,
// it is held by requester. Every other covering authority counts as a deny:
// silence never grants access.
//
// meter may be nil for read-only classification.
func Evaluate(st *models.State, idx *scope.Index, meter *gas.Meter, elem models.ScopeElement, transformation string, requester models.HolderID) (Admissibility, error) {
	ids := idx.Lookup(elem)
	if err := charge(meter, gas.OpScan, len(ids)); err != nil {
		return Admissibility{}, err
	}

	var adm Admissibility
	adm.Participants = make([]models.AuthorityID, 0, len(ids))
	for _, id := range ids {
		a := st.Authorities[id]
		if a == nil || !a.IsActive() {
			continue
		}
		if err := charge(meter, gas.OpMembership, 1); err != nil {
			return Admissibility{}, err
		}
		adm.Participants = append(adm.Participants, id)
		if a.Permits(transformation) && (requester == "" || a.HolderID == requester) {
			adm.HasPermit = true
		} else {
			adm.HasDeny = true
		}
	}
	return adm, nil
}

func charge(meter *gas.Meter, op gas.Op, n int) error {
	if meter == nil {
		return nil
	}
	return meter.Charge(op, n)
}
