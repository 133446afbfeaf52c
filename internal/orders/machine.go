package orders

import (
	"fmt"

	"github.com/tomasmejiag0/puracalle-food/models"
)

// Role is the kind of actor requesting a transition.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleCourier  Role = "courier"
	RoleKitchen  Role = "kitchen"
)

// Transition is one legal (actor, from, to) edge.
type Transition struct {
	Role Role
	From models.DetailedStatus
	To   models.DetailedStatus
}

var transitions = []Transition{
	{RoleCustomer, models.StatusPending, models.StatusCancelled},
	{RoleCustomer, models.StatusPreparing, models.StatusCancelled},
	{RoleCustomer, models.StatusReadyForPickup, models.StatusCancelled},
	{RoleCustomer, models.StatusAssignedToDriver, models.StatusCancelled},

	{RoleCourier, models.StatusReadyForPickup, models.StatusAssignedToDriver},
	{RoleCourier, models.StatusAssignedToDriver, models.StatusOutForDelivery},
	{RoleCourier, models.StatusOutForDelivery, models.StatusDelivered},
	{RoleCourier, models.StatusAssignedToDriver, models.StatusReadyForPickup},
	{RoleCourier, models.StatusOutForDelivery, models.StatusReadyForPickup},

	{RoleKitchen, models.StatusPending, models.StatusPreparing},
	{RoleKitchen, models.StatusPreparing, models.StatusReadyForPickup},
}

// Transitions returns a copy of the transition table.
func Transitions() []Transition {
	out := make([]Transition, len(transitions))
	copy(out, transitions)
	return out
}

// CancellableStates are the states a customer may cancel from.
var CancellableStates = []models.DetailedStatus{
	models.StatusPending,
	models.StatusPreparing,
	models.StatusReadyForPickup,
	models.StatusAssignedToDriver,
}

// Machine validates transitions against the table. The zero value is not
// usable; build one with NewMachine.
type Machine struct {
	initial models.DetailedStatus
	allowed map[Transition]struct{}
}

// NewMachine returns a Machine whose orders are created in initial, which must
// be pending or ready_for_pickup.
func NewMachine(initial models.DetailedStatus) (Machine, error) {
	if initial != models.StatusPending && initial != models.StatusReadyForPickup {
		return Machine{}, fmt.Errorf("%w: initial status %q", ErrInvalidArgument, initial)
	}
	m := Machine{initial: initial, allowed: make(map[Transition]struct{}, len(transitions))}
	for _, t := range transitions {
		m.allowed[t] = struct{}{}
	}
	return m, nil
}

// Initial is the state new orders start in.
func (m Machine) Initial() models.DetailedStatus { return m.initial }

// Allowed reports whether role may move an order from one state to another.
func (m Machine) Allowed(role Role, from, to models.DetailedStatus) bool {
	_, ok := m.allowed[Transition{Role: role, From: from, To: to}]
	return ok
}

// Check returns a *TransitionError when the edge is not in the table.
func (m Machine) Check(role Role, from, to models.DetailedStatus) error {
	if m.Allowed(role, from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to, Role: role}
}
