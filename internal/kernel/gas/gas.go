// Package gas bounds the work a single event may perform.
//
// Every primitive operation has a fixed cost and every event category has a
// fixed budget. Both tables are part of the replay contract: two kernels that
// disagree on them disagree on which events exhaust.
package gas

import (
	"errors"
	"fmt"

	"authkernel/internal/kernel/models"
)

// ErrExhausted is returned by Charge when an operation would exceed the budget.
var ErrExhausted = errors.New("gas exhausted")

// Op is a chargeable primitive.
type Op string

const (
	OpHash        Op = "hash"
	OpMembership  Op = "membership"
	OpScan        Op = "scan"
	OpStateUpdate Op = "state_update"
	OpLogAppend   Op = "log_append"
)

// Costs is the fixed price of each primitive.
type Costs struct {
	Hash        int `yaml:"hash"`
	Membership  int `yaml:"membership"`
	Scan        int `yaml:"scan"`
	StateUpdate int `yaml:"state_update"`
	LogAppend   int `yaml:"log_append"`
}

// Budgets is the per-event allowance by event category. Epoch advancement
// gets the largest budget because it sweeps every authority.
type Budgets struct {
	Injection      int `yaml:"injection"`
	Action         int `yaml:"action"`
	Transformation int `yaml:"transformation"`
	Destruction    int `yaml:"destruction"`
	Epoch          int `yaml:"epoch"`
}

// Schedule pairs the cost table with the budgets.
type Schedule struct {
	Costs   Costs   `yaml:"costs"`
	Budgets Budgets `yaml:"budgets"`
}

// DefaultSchedule returns the reference cost table and budgets.
func DefaultSchedule() Schedule {
	return Schedule{
		Costs: Costs{
			Hash:        10,
			Membership:  1,
			Scan:        2,
			StateUpdate: 5,
			LogAppend:   1,
		},
		Budgets: Budgets{
			Injection:      500,
			Action:         1000,
			Transformation: 1000,
			Destruction:    1000,
			Epoch:          5000,
		},
	}
}

// Validate rejects non-positive costs or budgets.
func (s Schedule) Validate() error {
	costs := map[Op]int{
		OpHash:        s.Costs.Hash,
		OpMembership:  s.Costs.Membership,
		OpScan:        s.Costs.Scan,
		OpStateUpdate: s.Costs.StateUpdate,
		OpLogAppend:   s.Costs.LogAppend,
	}
	for op, c := range costs {
		if c <= 0 {
			return fmt.Errorf("gas cost for %s must be positive, got %d", op, c)
		}
	}
	budgets := map[models.EventType]int{
		models.EventAuthorityInjection:       s.Budgets.Injection,
		models.EventActionRequest:            s.Budgets.Action,
		models.EventTransformationRequest:    s.Budgets.Transformation,
		models.EventDestructionAuthorization: s.Budgets.Destruction,
		models.EventEpochAdvancement:         s.Budgets.Epoch,
	}
	for et, b := range budgets {
		if b <= 0 {
			return fmt.Errorf("gas budget for %s must be positive, got %d", et, b)
		}
	}
	return nil
}

// Budget returns the allowance for an event category.
func (s Schedule) Budget(t models.EventType) int {
	switch t {
	case models.EventAuthorityInjection:
		return s.Budgets.Injection
	case models.EventActionRequest:
		return s.Budgets.Action
	case models.EventTransformationRequest:
		return s.Budgets.Transformation
	case models.EventDestructionAuthorization:
		return s.Budgets.Destruction
	case models.EventEpochAdvancement:
		return s.Budgets.Epoch
	}
	return 0
}

func (c Costs) of(op Op) int {
	switch op {
	case OpHash:
		return c.Hash
	case OpMembership:
		return c.Membership
	case OpScan:
		return c.Scan
	case OpStateUpdate:
		return c.StateUpdate
	case OpLogAppend:
		return c.LogAppend
	}
	panic(fmt.Sprintf("gas: unknown op %q", op))
}

// Meter tracks consumption for one event. A fresh Meter is created per event.
type Meter struct {
	costs    Costs
	budget   int
	consumed int
}

// NewMeter starts a meter with zero consumption.
func NewMeter(schedule Schedule, t models.EventType) *Meter {
	return &Meter{costs: schedule.Costs, budget: schedule.Budget(t)}
}

// Charge bills n units of op. When the charge would exceed the budget nothing
// is billed and ErrExhausted is returned.
func (m *Meter) Charge(op Op, n int) error {
	if n <= 0 {
		return nil
	}
	cost := m.costs.of(op) * n
	if m.consumed+cost > m.budget {
		return fmt.Errorf("%w: %s x%d needs %d, %d of %d remaining", ErrExhausted, op, n, cost, m.budget-m.consumed, m.budget)
	}
	m.consumed += cost
	return nil
}

// Consumed returns the gas billed so far.
func (m *Meter) Consumed() int { return m.consumed }

// Budget returns the event's allowance.
func (m *Meter) Budget() int { return m.budget }

// Remaining returns the unbilled allowance.
func (m *Meter) Remaining() int { return m.budget - m.consumed }
