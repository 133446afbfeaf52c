package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/tomasmejiag0/puracalle-food/models"
)

var (
	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyTaken      = errors.New("order already taken")
	ErrCodeMismatch      = errors.New("delivery code mismatch")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrNotFound          = errors.New("order not found")
	ErrEvidenceRequired  = errors.New("delivery photo required")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// TransitionError names the rejected edge.
type TransitionError struct {
	From models.DetailedStatus
	To   models.DetailedStatus
	Role Role
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s cannot move order from %s to %s", e.Role, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Class separates expected outcomes from retry-worthy and programming errors.
type Class int

const (
	ClassNone Class = iota
	// ClassPrecondition is an expected, recoverable outcome such as losing a claim race.
	ClassPrecondition
	// ClassTransient is a store or transport failure; the call may be retried.
	ClassTransient
	// ClassLogic is a caller bug that a correct client never triggers.
	ClassLogic
)

func (c Class) String() string {
	switch c {
	case ClassPrecondition:
		return "precondition"
	case ClassTransient:
		return "transient"
	case ClassLogic:
		return "logic"
	}
	return "none"
}

// Classify maps err onto its Class.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyTaken),
		errors.Is(err, ErrCodeMismatch),
		errors.Is(err, ErrNotAuthorized),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrEvidenceRequired):
		return ClassPrecondition
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	return ClassLogic
}

// Retryable reports whether a caller may retry the operation unchanged.
func Retryable(err error) bool {
	return Classify(err) == ClassTransient
}

// UserMessage returns a plain-language reason suitable for end users.
// Storage details never appear in it.
func UserMessage(err error) string {
	var te *TransitionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		if te.Role == RoleCustomer && te.To == models.StatusCancelled && te.From == models.StatusOutForDelivery {
			return "Your order is already on its way and can no longer be cancelled."
		}
		return fmt.Sprintf("This order is %s, so that action is not available.", describe(te.From))
	case errors.Is(err, ErrAlreadyTaken):
		return "Another courier already took this order. Refresh the list and pick another one."
	case errors.Is(err, ErrCodeMismatch):
		return "The delivery code does not match. Ask the customer for the code and try again."
	case errors.Is(err, ErrEvidenceRequired):
		return "Take a photo of the delivery before completing it."
	case errors.Is(err, ErrNotAuthorized):
		return "You are not allowed to change this order."
	case errors.Is(err, ErrNotFound):
		return "We could not find this order."
	case errors.Is(err, ErrInvalidArgument):
		return "Some of the information sent is not valid."
	case Classify(err) == ClassTransient:
		return "We could not reach the server. Please try again."
	}
	return "Something went wrong. Please try again."
}

func describe(s models.DetailedStatus) string {
	switch s {
	case models.StatusPending:
		return "waiting for the kitchen"
	case models.StatusPreparing:
		return "being prepared"
	case models.StatusReadyForPickup:
		return "waiting for a courier"
	case models.StatusAssignedToDriver:
		return "assigned to a courier"
	case models.StatusOutForDelivery:
		return "out for delivery"
	case models.StatusDelivered:
		return "already delivered"
	case models.StatusCancelled:
		return "cancelled"
	}
	return string(s)
}

// storeErr marks lock contention and deadlines as ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
