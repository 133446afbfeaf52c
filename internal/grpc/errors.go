package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tomasmejiag0/puracalle-food/internal/blob"
	"github.com/tomasmejiag0/puracalle-food/internal/orders"
)

// errorDomain scopes the ErrorInfo reasons attached to statuses.
const errorDomain = pkg

// Reasons carried in ErrorInfo. Clients classify on these, never on the
// message text.
const (
	ReasonNotFound          = "NOT_FOUND"
	ReasonAlreadyTaken      = "ALREADY_TAKEN"
	ReasonInvalidTransition = "INVALID_TRANSITION"
	ReasonEvidenceRequired  = "EVIDENCE_REQUIRED"
	ReasonCodeMismatch      = "CODE_MISMATCH"
	ReasonInvalidArgument   = "INVALID_ARGUMENT"
	ReasonNotAuthorized     = "NOT_AUTHORIZED"
	ReasonStoreUnavailable  = "STORE_UNAVAILABLE"
)

// toStatus maps service errors to gRPC codes. The message is the
// user-facing reason; storage details stay in the logs.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	st := status.New(codeOf(err), orders.UserMessage(err))
	if reason := reasonOf(err); reason != "" {
		if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain}); derr == nil {
			st = detailed
		}
	}
	return st.Err()
}

func codeOf(err error) codes.Code {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, orders.ErrAlreadyTaken):
		return codes.Aborted
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrEvidenceRequired):
		return codes.FailedPrecondition
	case errors.Is(err, orders.ErrCodeMismatch),
		errors.Is(err, orders.ErrInvalidArgument),
		errors.Is(err, blob.ErrInvalidKey):
		return codes.InvalidArgument
	case errors.Is(err, orders.ErrNotAuthorized):
		return codes.PermissionDenied
	case errors.Is(err, orders.ErrStoreUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Internal
}

// reasons pairs each service error with its ErrorInfo reason, in match order.
var reasons = []struct {
	err    error
	reason string
}{
	{orders.ErrNotFound, ReasonNotFound},
	{orders.ErrAlreadyTaken, ReasonAlreadyTaken},
	{orders.ErrEvidenceRequired, ReasonEvidenceRequired},
	{orders.ErrInvalidTransition, ReasonInvalidTransition},
	{orders.ErrCodeMismatch, ReasonCodeMismatch},
	{orders.ErrInvalidArgument, ReasonInvalidArgument},
	{blob.ErrInvalidKey, ReasonInvalidArgument},
	{orders.ErrNotAuthorized, ReasonNotAuthorized},
	{orders.ErrStoreUnavailable, ReasonStoreUnavailable},
}

func reasonOf(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}

// errorFor is the inverse of reasonOf.
func errorFor(reason string) error {
	if reason == ReasonInvalidArgument {
		return orders.ErrInvalidArgument
	}
	for _, r := range reasons {
		if r.reason == reason {
			return r.err
		}
	}
	return nil
}
