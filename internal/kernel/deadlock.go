package kernel

import (
	"context"
	"fmt"

	"authkernel/internal/kernel/models"
	"authkernel/internal/kernel/scope"
	pstrings "authkernel/pkg/platform/strings"
)

// Classify reports the terminal condition of the committed state, checked in
// priority order: entropic collapse, conflict deadlock, governance deadlock.
// It is read-only and charges no gas.
func (k *Kernel) Classify() models.DeadlockKind {
	return classify(k.state, k.index, k.allowScopedResolution)
}

func classify(st *models.State, idx *scope.Index, allowScopedResolution bool) models.DeadlockKind {
	active := st.ActiveAuthorities()
	if len(active) == 0 {
		return models.EntropicCollapse
	}

	open := st.OpenConflicts()
	internalPath := allowScopedResolution && hasResolver(active, open)
	if len(open) > 0 && !internalPath && fullyBlocked(st, active) {
		return models.ConflictDeadlock
	}
	if internalPath {
		return models.DeadlockNone
	}

	for _, a := range active {
		for _, e := range a.Scope {
			if _, blocked := st.OpenConflictCovering(e); blocked {
				continue
			}
			for _, t := range a.PermittedTransformations {
				adm, _ := Evaluate(st, idx, nil, e, t, a.HolderID)
				if adm.Admissible() {
					return models.DeadlockNone
				}
			}
		}
	}
	return models.GovernanceDeadlock
}

// fullyBlocked reports whether every ACTIVE authority's entire scope sits
// under OPEN conflicts.
func fullyBlocked(st *models.State, active []*models.Authority) bool {
	for _, a := range active {
		for _, e := range a.Scope {
			if _, ok := st.OpenConflictCovering(e); !ok {
				return false
			}
		}
	}
	return true
}

// hasResolver reports whether some ACTIVE authority could resolve an open
// conflict from inside the run.
func hasResolver(active []*models.Authority, open []*models.Conflict) bool {
	for _, a := range active {
		if !a.Permits(models.TransformResolveConflict) {
			continue
		}
		for _, c := range open {
			if a.CoversAll(c.Scope) {
				return true
			}
		}
	}
	return false
}

// DeclareDeadlock records the terminal condition and returns the
// DEADLOCK_DECLARED output. Only the deadlock flag and kind change; no
// authority or conflict record is touched.
//
// The output carries the index of the last processed event, or -1 when no
// event has been processed yet.
//
// It panics when the state is not deadlocked or a deadlock was already
// declared. Callers check Classify first.
func (k *Kernel) DeclareDeadlock(ctx context.Context) models.KernelOutput {
	if k.state.Deadlock {
		panic(fmt.Sprintf("kernel: deadlock already declared (%s)", k.state.DeadlockKind))
	}
	kind := k.Classify()
	if kind == models.DeadlockNone {
		panic("kernel: DeclareDeadlock called on a state that is not deadlocked")
	}

	next := k.state.Clone()
	next.Deadlock = true
	next.DeadlockKind = kind
	next.StateID = next.ComputeID()
	k.state = next

	out := k.deadlockOutput(models.OutputDeadlockDeclared, kind)
	k.metrics.IncrementDeadlock(string(kind))
	if k.logger != nil {
		k.logger.WarnContext(ctx, "deadlock declared",
			"deadlock_type", kind,
			"epoch", k.state.Epoch,
			"event_index", out.EventIndex,
			"state_hash", out.StateHash,
		)
	}
	return out
}

// DeclareDeadlockPersisted confirms that a declared deadlock still holds.
// It does not change state. It panics when no deadlock was declared or the
// state has since left the deadlock.
func (k *Kernel) DeclareDeadlockPersisted(ctx context.Context) models.KernelOutput {
	if !k.state.Deadlock {
		panic("kernel: DeclareDeadlockPersisted called before DeclareDeadlock")
	}
	kind := k.Classify()
	if kind == models.DeadlockNone {
		panic("kernel: DeclareDeadlockPersisted called after the deadlock was exited")
	}

	out := k.deadlockOutput(models.OutputDeadlockPersisted, kind)
	out.Details["declared_type"] = string(k.state.DeadlockKind)
	if k.logger != nil {
		k.logger.InfoContext(ctx, "deadlock persisted",
			"deadlock_type", kind,
			"event_index", out.EventIndex,
			"state_hash", out.StateHash,
		)
	}
	return out
}

func (k *Kernel) deadlockOutput(t models.OutputType, kind models.DeadlockKind) models.KernelOutput {
	// -1 when declared before any event, so it never aliases event 0.
	index := k.eventCount - 1
	var active []models.AuthorityID
	for _, a := range k.state.ActiveAuthorities() {
		active = append(active, a.ID)
	}
	var open []models.ConflictID
	for _, c := range k.state.OpenConflicts() {
		open = append(open, c.ID)
	}
	return models.KernelOutput{
		OutputType: t,
		EventIndex: index,
		StateHash:  k.state.StateID,
		Details: map[string]any{
			models.DetailDeadlockType: string(kind),
			"epoch":                   k.state.Epoch,
			"active_authority_ids":    pstrings.ToStrings(active),
			"open_conflict_ids":       pstrings.ToStrings(open),
		},
	}
}
