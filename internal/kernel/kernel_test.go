package kernel

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"authkernel/internal/kernel/gas"
	"authkernel/internal/kernel/metrics"
	"authkernel/internal/kernel/models"
)

// =============================================================================
// Kernel Orchestrator Test Suite
// =============================================================================
// Justification for unit tests: the orchestrator is the single mutation path.
// Tests verify constructor invariants, event atomicity, hash stamping, gas
// failure isolation, and every refusal reason a handler can produce.

type KernelSuite struct {
	suite.Suite
	ctx    context.Context
	kernel *Kernel
}

func TestKernelSuite(t *testing.T) {
	suite.Run(t, new(KernelSuite))
}

func (s *KernelSuite) SetupTest() {
	s.ctx = context.Background()
	s.kernel = s.newKernel()
}

func (s *KernelSuite) newKernel(opts ...Option) *Kernel {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	k, err := New(append([]Option{WithLogger(logger)}, opts...)...)
	s.Require().NoError(err)
	return k
}

func (s *KernelSuite) process(ev models.Event) models.KernelResult {
	return s.kernel.ProcessEvent(s.ctx, ev)
}

// expect processes ev and requires the primary output type.
func (s *KernelSuite) expect(ev models.Event, want models.OutputType) models.KernelResult {
	r := s.process(ev)
	s.Require().Equal(want, r.Output.OutputType, "details: %v", r.Output.Details)
	return r
}

func (s *KernelSuite) injectAll(auths ...models.Authority) {
	for _, a := range auths {
		s.expect(models.AuthorityInjection{Authority: a}, models.OutputAuthorityInjected)
	}
}

// conflictOn registers a conflict via a refused action and returns its ID.
func (s *KernelSuite) conflictOn(holder string, target string) models.ConflictID {
	r := s.expect(act(holder, "WRITE", target), models.OutputConflictRegistered)
	return models.ConflictID(r.Output.Details[models.DetailConflictID].(string))
}

func grant(id, holder string, transformations []string, targets ...string) models.Authority {
	scope := make([]models.ScopeElement, len(targets))
	for i, t := range targets {
		scope[i] = models.ScopeElement{Target: t}
	}
	return models.Authority{
		ID:                       models.AuthorityID(id),
		HolderID:                 models.HolderID(holder),
		Scope:                    scope,
		PermittedTransformations: transformations,
		Status:                   models.StatusActive,
	}
}

func writer(id, holder string, targets ...string) models.Authority {
	return grant(id, holder, []string{"WRITE"}, targets...)
}

func expiring(a models.Authority, epoch uint64) models.Authority {
	a.ExpiryEpoch = models.Epoch(epoch)
	return a
}

func renewal(a models.Authority, prior string) models.Authority {
	a.Metadata.RenewalOf = models.AuthorityID(prior)
	return a
}

func act(holder, transformation string, targets ...string) models.ActionRequest {
	elems := make([]models.ScopeElement, len(targets))
	for i, t := range targets {
		elems[i] = models.ScopeElement{Target: t}
	}
	return models.ActionRequest{
		RequestID:          models.RequestID("req-" + holder),
		RequesterHolderID:  models.HolderID(holder),
		Action:             elems,
		TransformationType: transformation,
	}
}

func govern(holder, transformation string, ids ...string) models.TransformationRequest {
	targets := make([]models.AuthorityID, len(ids))
	for i, id := range ids {
		targets[i] = models.AuthorityID(id)
	}
	return models.TransformationRequest{
		RequestID:         models.RequestID("tx-" + holder),
		RequesterHolderID: models.HolderID(holder),
		Transformation:    transformation,
		Targets:           models.TransformationTargets{AuthorityIDs: targets},
	}
}

func destroyAll(id models.ConflictID) models.DestructionAuthorization {
	return models.DestructionAuthorization{
		ConflictID:         id,
		TargetAuthorityIDs: []models.AuthorityID{models.TargetAll},
		AuthorizerID:       "external",
		Nonce:              "n-1",
	}
}

func destroyOnly(id models.ConflictID, targets ...models.AuthorityID) models.DestructionAuthorization {
	return models.DestructionAuthorization{
		ConflictID:         id,
		TargetAuthorityIDs: targets,
		AuthorizerID:       "external",
		Nonce:              "n-1",
	}
}

func outputTypes(r models.KernelResult) []models.OutputType {
	var out []models.OutputType
	for _, o := range r.Outputs() {
		out = append(out, o.OutputType)
	}
	return out
}

// bogusEvent satisfies models.Event by embedding a real variant but is not
// itself a recognized variant.
type bogusEvent struct {
	models.EpochAdvancement
}

// =============================================================================
// Constructor Tests (Invariant Enforcement)
// =============================================================================

func (s *KernelSuite) TestNew() {
	s.Run("defaults start at epoch zero with an empty state", func() {
		k, err := New()
		s.Require().NoError(err)
		s.Equal(uint64(0), k.State().Epoch)
		s.Equal(models.NewState(0).StateID, k.StateID())
		s.Equal(0, k.EventCount())
	})

	s.Run("invalid gas schedule returns error", func() {
		schedule := gas.DefaultSchedule()
		schedule.Budgets.Action = 0
		_, err := New(WithGasSchedule(schedule))
		s.Error(err)
		s.Contains(err.Error(), "invalid gas schedule")
	})

	s.Run("initial state is copied and rehashed", func() {
		initial := models.NewState(7)
		a := writer("auth_1", "h1", "R")
		initial.Authorities[a.ID] = &a

		k, err := New(WithInitialState(initial))
		s.Require().NoError(err)
		s.Equal(initial.ComputeID(), k.StateID())

		initial.Authorities[a.ID].Status = models.StatusVoid
		s.Equal(models.StatusActive, k.State().Authorities[a.ID].Status)
	})
}

// =============================================================================
// Admission Tests
// =============================================================================

func (s *KernelSuite) TestAdmission() {
	s.injectAll(writer("auth_1", "h1", "R", "S"))
	before := s.kernel.StateID()

	s.Run("single permitting authority executes", func() {
		r := s.expect(act("h1", "WRITE", "R", "S"), models.OutputActionExecuted)
		s.False(r.Failed())
		s.Empty(r.AuxiliaryOutputs)
		s.Equal(before, r.Output.StateHash)
		s.Equal(before, s.kernel.StateID())
	})

	s.Run("transformation outside the permitted set is NO_AUTHORITY", func() {
		r := s.expect(act("h1", "DELETE", "R"), models.OutputActionRefused)
		s.Equal(models.ReasonNoAuthority, r.Output.Reason())
		s.Equal(before, s.kernel.StateID())
	})

	s.Run("uncovered element is NO_AUTHORITY", func() {
		r := s.expect(act("h1", "WRITE", "R", "T"), models.OutputActionRefused)
		s.Equal(models.ReasonNoAuthority, r.Output.Reason())
		s.Equal("T", r.Output.Details[models.DetailScopeElement])
	})

	s.Run("other holder is NO_AUTHORITY", func() {
		r := s.expect(act("h2", "WRITE", "R"), models.OutputActionRefused)
		s.Equal(models.ReasonNoAuthority, r.Output.Reason())
	})

	s.Run("empty action is NO_AUTHORITY", func() {
		r := s.expect(act("h1", "WRITE"), models.OutputActionRefused)
		s.Equal(models.ReasonNoAuthority, r.Output.Reason())
	})

	s.Run("event indexes count every processed event", func() {
		r := s.process(act("h1", "WRITE", "R"))
		s.Equal(s.kernel.EventCount()-1, r.Output.EventIndex)
	})
}

// TestScopeElementIdentity pins element identity to the (target, operation)
// pair. A target containing a slash must not alias a target/operation pair
// that renders the same way.
func (s *KernelSuite) TestScopeElementIdentity() {
	path := models.ScopeElement{Target: "a/b"}
	pair := models.ScopeElement{Target: "a", Operation: "b"}
	first := writer("auth_1", "h1")
	first.Scope = []models.ScopeElement{path}
	second := writer("auth_2", "h2")
	second.Scope = []models.ScopeElement{pair}
	s.injectAll(first, second)

	for _, tc := range []struct {
		holder string
		elem   models.ScopeElement
	}{
		{"h1", path},
		{"h2", pair},
	} {
		s.Run(tc.holder+" writes its own element without conflict", func() {
			r := s.expect(models.ActionRequest{
				RequestID:          models.RequestID("req-" + tc.holder),
				RequesterHolderID:  models.HolderID(tc.holder),
				Action:             []models.ScopeElement{tc.elem},
				TransformationType: "WRITE",
			}, models.OutputActionExecuted)
			s.Empty(r.AuxiliaryOutputs)
		})
	}
	s.Empty(s.kernel.State().Conflicts)
}

// =============================================================================
// Conflict Lifecycle Tests
// =============================================================================

func (s *KernelSuite) TestConflictRegistration() {
	s.injectAll(writer("auth_1", "h1", "R"), writer("auth_2", "h2", "R"))

	r := s.process(act("h1", "WRITE", "R"))
	s.Equal([]models.OutputType{models.OutputConflictRegistered, models.OutputActionRefused}, outputTypes(r))
	s.Equal(models.ReasonConflictBlocks, r.AuxiliaryOutputs[0].Reason())
	s.Equal(models.ConflictDeadlock, r.Deadlock)

	id := models.ConflictIDFor([]models.AuthorityID{"auth_1", "auth_2"}, []models.ScopeElement{{Target: "R"}})
	s.Equal(string(id), r.Output.Details[models.DetailConflictID])

	st := s.kernel.State()
	s.Require().Contains(st.Conflicts, id)
	s.Equal([]models.AuthorityID{"auth_1", "auth_2"}, st.Conflicts[id].Participants)
	s.Equal(models.ConflictOpen, st.Conflicts[id].Status)
	for _, o := range r.Outputs() {
		s.Equal(st.StateID, o.StateHash)
	}

	s.Run("open conflict blocks without registering again", func() {
		before := s.kernel.StateID()
		r := s.expect(act("h2", "WRITE", "R"), models.OutputActionRefused)
		s.Equal(models.ReasonConflictBlocks, r.Output.Reason())
		s.Equal(string(id), r.Output.Details[models.DetailConflictID])
		s.Len(s.kernel.State().Conflicts, 1)
		s.Equal(before, s.kernel.StateID())
	})
}

func (s *KernelSuite) TestDestructionAuthorization() {
	s.injectAll(
		writer("auth_a", "h1", "R"), writer("auth_b", "h2", "R"),
		writer("auth_c", "h1", "S"), writer("auth_d", "h2", "S"),
	)
	onR := s.conflictOn("h1", "R")
	onS := s.conflictOn("h1", "S")

	s.Run("unknown conflict is CONFLICT_NOT_FOUND and does not consume the authorization", func() {
		r := s.expect(destroyAll("conflict_missing"), models.OutputDestructionRefused)
		s.Equal(models.ReasonConflictNotFound, r.Output.Reason())
		s.False(s.kernel.State().DestructionAuthorized)
	})

	s.Run("unknown target is AUTHORITY_NOT_FOUND", func() {
		r := s.expect(destroyOnly(onR, "auth_z"), models.OutputDestructionRefused)
		s.Equal(models.ReasonAuthorityNotFound, r.Output.Reason())
		s.Equal("auth_z", r.Output.Details[models.DetailAuthorityID])
	})

	s.Run("non-participant target is AUTHORITY_NOT_FOUND", func() {
		r := s.expect(destroyOnly(onR, "auth_c"), models.OutputDestructionRefused)
		s.Equal(models.ReasonAuthorityNotFound, r.Output.Reason())
	})

	s.Run("first valid authorization voids exactly the named targets", func() {
		r := s.expect(destroyOnly(onR, "auth_a"), models.OutputAuthorityDestroyed)
		s.Empty(r.AuxiliaryOutputs)

		st := s.kernel.State()
		s.Equal(models.StatusVoid, st.Authorities["auth_a"].Status)
		s.Equal(models.StatusActive, st.Authorities["auth_b"].Status)
		s.Equal(models.ConflictResolved, st.Conflicts[onR].Status)
		s.Equal(1, st.DestructionCount)
		s.True(st.DestructionAuthorized)

		rec := st.Authorities["auth_a"].Metadata.Destruction
		s.Require().NotNil(rec)
		s.Equal(onR, rec.ConflictID)
		s.Equal("external", rec.AuthorizerID)
		s.Equal("n-1", rec.Nonce)
		s.Equal(0, rec.Index)
		s.Equal(models.SourceExternalAuthorization, rec.Source)
	})

	s.Run("every later authorization is AMBIGUOUS_DESTRUCTION", func() {
		before := s.kernel.StateID()
		r := s.expect(destroyAll(onS), models.OutputDestructionRefused)
		s.Equal(models.ReasonAmbiguousDestruction, r.Output.Reason())
		s.Equal(before, s.kernel.StateID())
		s.Equal(models.ConflictOpen, s.kernel.State().Conflicts[onS].Status)
	})
}

func (s *KernelSuite) TestDestructionOfExpiredParticipant() {
	s.injectAll(expiring(writer("auth_1", "h1", "R"), 2), writer("auth_2", "h2", "R"))
	id := s.conflictOn("h1", "R")
	s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionExecuted)
	s.expect(models.EpochAdvancement{TargetEpoch: 2}, models.OutputActionExecuted)

	s.Equal(models.ConflictOpen, s.kernel.State().Conflicts[id].Status)

	r := s.expect(destroyOnly(id, "auth_1"), models.OutputDestructionRefused)
	s.Equal(models.ReasonAlreadyVoid, r.Output.Reason())

	r = s.expect(destroyAll(id), models.OutputAuthorityDestroyed)
	s.Equal("auth_2", r.Output.Details[models.DetailAuthorityID])
	s.Equal(models.StatusExpired, s.kernel.State().Authorities["auth_1"].Status)
}

func (s *KernelSuite) TestDestructionAllSkipsInactiveParticipants() {
	s.injectAll(
		expiring(writer("auth_1", "h1", "R"), 1),
		writer("auth_2", "h2", "R"),
		writer("auth_3", "h3", "R"),
	)
	id := s.conflictOn("h1", "R")
	s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionExecuted)

	r := s.expect(destroyAll(id), models.OutputAuthorityDestroyed)
	s.Equal([]models.OutputType{models.OutputAuthorityDestroyed, models.OutputAuthorityDestroyed}, outputTypes(r))

	st := s.kernel.State()
	s.Equal(models.StatusExpired, st.Authorities["auth_1"].Status)
	s.Nil(st.Authorities["auth_1"].Metadata.Destruction)
	s.Equal(models.StatusVoid, st.Authorities["auth_2"].Status)
	s.Equal(models.StatusVoid, st.Authorities["auth_3"].Status)
	s.Equal(2, st.DestructionCount)
}

func (s *KernelSuite) TestWhitespaceInAuthorityIDsIsSignificant() {
	padded := grant(" auth_1", "h1", []string{"WRITE", models.TransformSuspend}, "R")
	s.injectAll(padded, writer("auth_1", "h2", "S"))
	s.Len(s.kernel.State().Authorities, 2)

	s.expect(govern("h1", models.TransformSuspend, " auth_1"), models.OutputAuthorityTransformed)

	st := s.kernel.State()
	s.Equal(models.StatusSuspended, st.Authorities[" auth_1"].Status)
	s.Equal(models.StatusActive, st.Authorities["auth_1"].Status)
}

// =============================================================================
// Injection and Renewal Tests
// =============================================================================

func (s *KernelSuite) TestInjectionValidation() {
	s.injectAll(writer("auth_1", "h1", "R"))

	cases := []struct {
		name   string
		record models.Authority
		reason models.ReasonCode
	}{
		{"missing id", writer("", "h1", "R"), models.ReasonInvalidAuthority},
		{"missing holder", writer("auth_2", "", "R"), models.ReasonInvalidAuthority},
		{"empty scope", writer("auth_2", "h1"), models.ReasonInvalidAuthority},
		{"already due expiry", expiring(writer("auth_2", "h1", "R"), 0), models.ReasonInvalidAuthority},
		{"terminal status", func() models.Authority {
			a := writer("auth_2", "h1", "R")
			a.Status = models.StatusVoid
			return a
		}(), models.ReasonInvalidAuthority},
		{"reserved id", writer("ALL", "h1", "R"), models.ReasonInvalidAuthority},
		{"duplicate id", writer("auth_1", "h2", "S"), models.ReasonDuplicateAuthorityID},
		{"renewal of active authority", renewal(writer("auth_2", "h1", "R"), "auth_1"), models.ReasonRenewalNotPermitted},
		{"renewal of unknown authority", renewal(writer("auth_2", "h1", "R"), "auth_9"), models.ReasonRenewalNotPermitted},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			before := s.kernel.StateID()
			r := s.expect(models.AuthorityInjection{Authority: tc.record}, models.OutputActionRefused)
			s.Equal(tc.reason, r.Output.Reason())
			s.Equal(before, s.kernel.StateID())
		})
	}
}

func (s *KernelSuite) TestInjectionTakesOwnership() {
	a := writer("auth_1", "h1", "R", "R", "")
	a.CreatedEpoch = 99
	s.injectAll(a)

	a.Scope[0].Target = "MUTATED"
	stored := s.kernel.State().Authorities["auth_1"]
	s.Equal([]models.ScopeElement{{Target: "R"}}, stored.Scope)
	s.Equal(uint64(0), stored.CreatedEpoch)
}

func (s *KernelSuite) TestRenewalNonPriority() {
	s.injectAll(expiring(writer("auth_1", "h1", "R"), 1))
	s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionExecuted)
	s.injectAll(writer("auth_2", "h2", "R"))

	r := s.expect(models.AuthorityInjection{Authority: renewal(writer("auth_3", "h1", "R"), "auth_1")}, models.OutputAuthorityRenewed)
	s.Equal("auth_1", r.Output.Details["renewal_of"])
	s.Equal(models.AuthorityID("auth_1"), s.kernel.State().Authorities["auth_3"].Metadata.RenewalOf)

	r = s.expect(act("h1", "WRITE", "R"), models.OutputConflictRegistered)
	s.Equal([]string{"auth_2", "auth_3"}, r.Output.Details[models.DetailAuthorityIDs])
}

// =============================================================================
// Epoch Tests
// =============================================================================

func (s *KernelSuite) TestEpochContinuity() {
	s.injectAll(writer("auth_1", "h1", "R"))
	before := s.kernel.StateID()

	for _, target := range []uint64{0, 2, 100} {
		r := s.expect(models.EpochAdvancement{TargetEpoch: target}, models.OutputActionRefused)
		s.True(r.Failed())
		s.Equal(models.FailureNondeterministicExecution, r.Failure)
		s.Equal(string(models.FailureNondeterministicExecution), string(r.Output.Reason()))
		s.Equal(uint64(0), s.kernel.State().Epoch)
		s.Equal(before, s.kernel.StateID())
		s.Equal(before, r.Output.StateHash)
	}

	r := s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionExecuted)
	s.False(r.Failed())
	s.Equal(uint64(1), s.kernel.State().Epoch)
	s.NotEqual(before, s.kernel.StateID())
}

func (s *KernelSuite) TestExpirySweep() {
	s.injectAll(
		expiring(writer("auth_1", "h1", "R"), 1),
		expiring(writer("auth_2", "h2", "S"), 1),
		expiring(writer("auth_3", "h3", "T"), 3),
	)

	r := s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionExecuted)
	s.Equal([]models.OutputType{
		models.OutputActionExecuted, models.OutputAuthorityExpired, models.OutputAuthorityExpired,
	}, outputTypes(r))
	s.Equal("auth_1", r.AuxiliaryOutputs[0].Details[models.DetailAuthorityID])
	s.Equal("auth_2", r.AuxiliaryOutputs[1].Details[models.DetailAuthorityID])

	st := s.kernel.State()
	s.Equal(models.StatusExpired, st.Authorities["auth_1"].Status)
	s.Equal(uint64(1), *st.Authorities["auth_1"].Metadata.ExpiredAtEpoch)
	s.Equal(models.StatusActive, st.Authorities["auth_3"].Status)

	s.Run("expired authority never participates again", func() {
		r := s.expect(act("h1", "WRITE", "R"), models.OutputActionRefused)
		s.Equal(models.ReasonNoAuthority, r.Output.Reason())
	})
}

func (s *KernelSuite) TestSupersededConflictIsNonbinding() {
	s.injectAll(expiring(writer("auth_1", "h1", "R"), 1), expiring(writer("auth_2", "h2", "R"), 1))
	first := s.conflictOn("h1", "R")

	r := s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionExecuted)
	s.Equal([]string{string(first)}, r.Output.Details["nonbinding_conflict_ids"])
	s.Equal(models.ConflictOpenNonbinding, s.kernel.State().Conflicts[first].Status)

	s.injectAll(writer("auth_3", "h1", "R"), writer("auth_4", "h2", "R"))
	second := s.conflictOn("h2", "R")
	s.NotEqual(first, second)
	s.Len(s.kernel.State().Conflicts, 2)
}

// =============================================================================
// Governance Transformation Tests
// =============================================================================

func (s *KernelSuite) TestGovernanceTransformations() {
	s.injectAll(grant("auth_1", "h1", []string{"WRITE", models.TransformSuspend, models.TransformRevoke}, "R"))

	s.Run("unknown transformation", func() {
		r := s.expect(govern("h1", "MERGE_AUTHORITY", "auth_1"), models.OutputActionRefused)
		s.Equal(models.ReasonUnknownTransformation, r.Output.Reason())
	})

	s.Run("unknown target", func() {
		r := s.expect(govern("h1", models.TransformSuspend, "auth_9"), models.OutputActionRefused)
		s.Equal(models.ReasonAuthorityNotFound, r.Output.Reason())
	})

	s.Run("resume of an active authority is INVALID_TRANSITION", func() {
		r := s.expect(govern("h1", models.TransformResume, "auth_1"), models.OutputActionRefused)
		s.Equal(models.ReasonInvalidTransition, r.Output.Reason())
	})

	s.Run("suspend removes the authority from admissibility", func() {
		r := s.expect(govern("h1", models.TransformSuspend, "auth_1"), models.OutputAuthorityTransformed)
		s.Equal(string(models.StatusActive), r.Output.Details["from"])
		s.Equal(string(models.StatusSuspended), r.Output.Details["to"])

		r = s.expect(act("h1", "WRITE", "R"), models.OutputActionRefused)
		s.Equal(models.ReasonNoAuthority, r.Output.Reason())
	})

	s.Run("resume needs another ACTIVE grant and restores participation", func() {
		r := s.expect(govern("h1", models.TransformResume, "auth_1"), models.OutputActionRefused)
		s.Equal(models.ReasonNoAuthority, r.Output.Reason())

		s.injectAll(grant("auth_g", "h1", []string{"WRITE", models.TransformResume, models.TransformRevoke}, "R"))
		s.expect(govern("h1", models.TransformResume, "auth_1"), models.OutputAuthorityTransformed)
		s.expect(act("h1", "WRITE", "R"), models.OutputActionExecuted)
	})

	s.Run("revoke is terminal", func() {
		s.expect(govern("h1", models.TransformRevoke, "auth_1"), models.OutputAuthorityTransformed)
		rec := s.kernel.State().Authorities["auth_1"].Metadata.Revocation
		s.Require().NotNil(rec)
		s.Equal(models.HolderID("h1"), rec.RequesterID)

		r := s.expect(govern("h1", models.TransformResume, "auth_1"), models.OutputActionRefused)
		s.Equal(models.ReasonInvalidTransition, r.Output.Reason())
	})
}

func (s *KernelSuite) TestGovernanceRequiresAdmissibility() {
	s.injectAll(writer("auth_1", "h1", "R"), grant("auth_2", "h2", []string{models.TransformSuspend}, "S"))

	r := s.expect(govern("h2", models.TransformSuspend, "auth_1"), models.OutputActionRefused)
	s.Equal(models.ReasonNoAuthority, r.Output.Reason())
	s.Equal(models.StatusActive, s.kernel.State().Authorities["auth_1"].Status)
}

func (s *KernelSuite) TestScopedResolution() {
	s.Run("disabled by default", func() {
		r := s.expect(models.TransformationRequest{
			RequestID:         "tx-1",
			RequesterHolderID: "h3",
			Transformation:    models.TransformResolveConflict,
		}, models.OutputActionRefused)
		s.Equal(models.ReasonScopedResolutionDisabled, r.Output.Reason())
	})

	s.Run("enabled resolver voids named participants without consuming external authorization", func() {
		s.kernel = s.newKernel(WithScopedResolution(true))
		s.injectAll(
			writer("auth_1", "h1", "R"),
			writer("auth_2", "h2", "R"),
			grant("auth_r", "h3", []string{models.TransformResolveConflict}, "R"),
		)
		r := s.expect(act("h1", "WRITE", "R"), models.OutputConflictRegistered)
		s.Empty(r.Deadlock)
		id := models.ConflictID(r.Output.Details[models.DetailConflictID].(string))

		resolve := func(holder string) models.TransformationRequest {
			return models.TransformationRequest{
				RequestID:         "tx-resolve",
				RequesterHolderID: models.HolderID(holder),
				Transformation:    models.TransformResolveConflict,
				Targets: models.TransformationTargets{
					ConflictIDs:  []models.ConflictID{id},
					AuthorityIDs: []models.AuthorityID{"auth_2"},
				},
			}
		}

		r = s.expect(resolve("h1"), models.OutputActionRefused)
		s.Equal(models.ReasonNoAuthority, r.Output.Reason())

		r = s.expect(resolve("h3"), models.OutputAuthorityDestroyed)
		s.Equal(string(models.SourceScopedResolution), r.Output.Details["source"])

		st := s.kernel.State()
		s.Equal(models.StatusVoid, st.Authorities["auth_2"].Status)
		s.Equal(models.ConflictResolved, st.Conflicts[id].Status)
		s.False(st.DestructionAuthorized)
	})
}

// =============================================================================
// Gas Tests
// =============================================================================

func (s *KernelSuite) TestGasExhaustionIsEventFatal() {
	schedule := gas.DefaultSchedule()
	// an injection into an empty state costs 19: membership, update, scan, append, hash
	schedule.Budgets.Injection = 15
	s.kernel = s.newKernel(WithGasSchedule(schedule))
	before := s.kernel.StateID()

	r := s.expect(models.AuthorityInjection{Authority: writer("auth_1", "h1", "R")}, models.OutputActionRefused)
	s.Equal(models.FailureGasExhausted, r.Failure)
	s.Equal(string(models.FailureGasExhausted), string(r.Output.Reason()))
	s.Equal(before, s.kernel.StateID())
	s.Empty(s.kernel.State().Authorities)

	r = s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionExecuted)
	s.False(r.Failed())
	s.Equal(1, r.Output.EventIndex)
}

func (s *KernelSuite) TestGasExhaustionDuringExpirySweep() {
	schedule := gas.DefaultSchedule()
	schedule.Budgets.Epoch = 60
	s.kernel = s.newKernel(WithGasSchedule(schedule))
	for _, id := range []string{"auth_1", "auth_2", "auth_3", "auth_4", "auth_5", "auth_6"} {
		s.injectAll(expiring(writer(id, "h-"+id, "R-"+id), 1))
	}
	before := s.kernel.StateID()

	r := s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionRefused)
	s.Equal(models.FailureGasExhausted, r.Failure)
	s.Empty(r.AuxiliaryOutputs)
	s.Equal(before, r.Output.StateHash)
	s.Equal(before, s.kernel.StateID())

	st := s.kernel.State()
	s.Equal(uint64(0), st.Epoch)
	s.Len(st.Authorities, 6)
	for id, a := range st.Authorities {
		s.Equal(models.StatusActive, a.Status, "authority %s", id)
		s.Nil(a.Metadata.ExpiredAtEpoch, "authority %s", id)
	}
}

func (s *KernelSuite) TestGasExhaustionOnDestructionIsDestructionRefused() {
	schedule := gas.DefaultSchedule()
	schedule.Budgets.Destruction = 1
	s.kernel = s.newKernel(WithGasSchedule(schedule))
	s.injectAll(writer("auth_1", "h1", "R"), writer("auth_2", "h2", "R"))
	id := s.conflictOn("h1", "R")

	r := s.expect(destroyAll(id), models.OutputDestructionRefused)
	s.Equal(models.FailureGasExhausted, r.Failure)
	s.False(s.kernel.State().DestructionAuthorized)
	s.Equal(models.ConflictOpen, s.kernel.State().Conflicts[id].Status)
}

// =============================================================================
// Deadlock Tests
// =============================================================================

func (s *KernelSuite) TestDeadlockDeclaration() {
	s.Run("declaring without a deadlock panics", func() {
		s.injectAll(writer("auth_1", "h1", "R"))
		s.Equal(models.DeadlockNone, s.kernel.Classify())
		s.Panics(func() { s.kernel.DeclareDeadlock(s.ctx) })
		s.Panics(func() { s.kernel.DeclareDeadlockPersisted(s.ctx) })
	})

	s.Run("declaration before any event carries index -1", func() {
		s.kernel = s.newKernel()
		s.Equal(models.EntropicCollapse, s.kernel.Classify())
		out := s.kernel.DeclareDeadlock(s.ctx)
		s.Equal(-1, out.EventIndex)

		r := s.process(models.EpochAdvancement{TargetEpoch: 1})
		s.Equal(0, r.Output.EventIndex)
	})

	s.Run("governance deadlock when nothing is admissible", func() {
		s.kernel = s.newKernel()
		s.injectAll(writer("auth_1", "h1", "R"), writer("auth_2", "h2", "R"))
		s.Equal(models.GovernanceDeadlock, s.kernel.Classify())
	})

	s.Run("declaration is recorded once and persists", func() {
		s.kernel = s.newKernel()
		s.injectAll(writer("auth_1", "h1", "R"), writer("auth_2", "h2", "R"))
		s.conflictOn("h1", "R")
		authorities := s.kernel.State().Authorities
		conflicts := s.kernel.State().Conflicts

		out := s.kernel.DeclareDeadlock(s.ctx)
		s.Equal(models.OutputDeadlockDeclared, out.OutputType)
		s.Equal(string(models.ConflictDeadlock), out.Details[models.DetailDeadlockType])
		s.Equal(s.kernel.EventCount()-1, out.EventIndex)
		s.Equal(s.kernel.StateID(), out.StateHash)

		st := s.kernel.State()
		s.True(st.Deadlock)
		s.Equal(models.ConflictDeadlock, st.DeadlockKind)
		s.Equal(authorities, st.Authorities)
		s.Equal(conflicts, st.Conflicts)

		s.Panics(func() { s.kernel.DeclareDeadlock(s.ctx) })

		before := s.kernel.StateID()
		persisted := s.kernel.DeclareDeadlockPersisted(s.ctx)
		s.Equal(models.OutputDeadlockPersisted, persisted.OutputType)
		s.Equal(before, s.kernel.StateID())
	})
}

// =============================================================================
// Dispatch and Observability Tests
// =============================================================================

func (s *KernelSuite) TestUnknownVariantPanics() {
	s.Panics(func() {
		s.process(bogusEvent{models.EpochAdvancement{TargetEpoch: 1}})
	})
}

func (s *KernelSuite) TestMetricsRecorded() {
	m := metrics.New(prometheus.NewRegistry())
	s.kernel = s.newKernel(WithMetrics(m))
	s.injectAll(expiring(writer("auth_1", "h1", "R"), 1), writer("auth_2", "h2", "R"))
	id := s.conflictOn("h1", "R")
	s.expect(destroyOnly(id, "auth_2"), models.OutputAuthorityDestroyed)
	s.expect(models.EpochAdvancement{TargetEpoch: 1}, models.OutputActionExecuted)
	s.expect(models.EpochAdvancement{TargetEpoch: 3}, models.OutputActionRefused)

	s.Equal(float64(1), testutil.ToFloat64(m.ConflictsRegistered))
	s.Equal(float64(1), testutil.ToFloat64(m.AuthoritiesDestroyed))
	s.Equal(float64(1), testutil.ToFloat64(m.AuthoritiesExpired))
	s.Equal(float64(1), testutil.ToFloat64(m.Epoch))
	s.Equal(float64(1), testutil.ToFloat64(m.EventFailures.WithLabelValues(string(models.FailureNondeterministicExecution))))
	s.Equal(float64(2), testutil.ToFloat64(m.EventsProcessed.WithLabelValues(
		string(models.EventAuthorityInjection), string(models.OutputAuthorityInjected))))
}
