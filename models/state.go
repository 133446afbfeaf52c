package models

import "time"

// State is the tagged lifecycle variant of an order. Only the types in this
// file implement it.
type State interface {
	Detailed() DetailedStatus
	isState()
}

type Pending struct{}

type Preparing struct{}

type ReadyForPickup struct{}

// AssignedToDriver means a courier claimed the order and has not left yet.
type AssignedToDriver struct {
	CourierID  string
	AcceptedAt time.Time
}

// OutForDelivery means the assigned courier is en route to the customer.
type OutForDelivery struct {
	CourierID  string
	AcceptedAt time.Time
	DepartedAt time.Time
}

// Delivered is terminal. CourierID is the courier that completed the
// delivery; the assignment itself is released.
type Delivered struct {
	CourierID   string
	AcceptedAt  time.Time
	DepartedAt  time.Time
	DeliveredAt time.Time
	PhotoRef    string
}

// Cancelled is terminal.
type Cancelled struct {
	CancelledAt time.Time
	By          string
}

func (Pending) Detailed() DetailedStatus          { return StatusPending }
func (Preparing) Detailed() DetailedStatus        { return StatusPreparing }
func (ReadyForPickup) Detailed() DetailedStatus   { return StatusReadyForPickup }
func (AssignedToDriver) Detailed() DetailedStatus { return StatusAssignedToDriver }
func (OutForDelivery) Detailed() DetailedStatus   { return StatusOutForDelivery }
func (Delivered) Detailed() DetailedStatus        { return StatusDelivered }
func (Cancelled) Detailed() DetailedStatus        { return StatusCancelled }

func (Pending) isState()          {}
func (Preparing) isState()        {}
func (ReadyForPickup) isState()   {}
func (AssignedToDriver) isState() {}
func (OutForDelivery) isState()   {}
func (Delivered) isState()        {}
func (Cancelled) isState()        {}

// InitialState returns the variant for a state that carries no fields.
// It returns false for states that need courier or timestamp data.
func InitialState(s DetailedStatus) (State, bool) {
	switch s {
	case StatusPending:
		return Pending{}, true
	case StatusPreparing:
		return Preparing{}, true
	case StatusReadyForPickup:
		return ReadyForPickup{}, true
	}
	return nil, false
}
