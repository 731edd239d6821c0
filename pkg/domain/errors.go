package domain

import "errors"

var (
	// ErrNotFound is returned when a span, approval, policy, contract, alert or event id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned for an illegal lifecycle transition.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrNotReady is returned when a span is executed before it reached approval.
	ErrNotReady = errors.New("span not ready for execution")

	// ErrNotReversible is returned when rolling back a span without a rollback procedure.
	ErrNotReversible = errors.New("span is not reversible")

	// ErrInvalidApprovalState is returned when acting on a non-pending approval.
	ErrInvalidApprovalState = errors.New("approval is not pending")

	// ErrNotAnApprover is returned when the actor is not in the approver list.
	ErrNotAnApprover = errors.New("not an approver")

	// ErrNoAuthenticatedUser is returned when no acting identity is present in the context.
	ErrNoAuthenticatedUser = errors.New("no authenticated user")

	// ErrNotAuthorized is returned by the execution gate when governance has not cleared a span.
	ErrNotAuthorized = errors.New("span not authorized for execution")

	// ErrSelfSignOff is returned when a requester tries to sign off their own request.
	ErrSelfSignOff = errors.New("requester cannot sign off their own request")

	// ErrInvalidSpan is returned when a span is created with an unknown type or without a forward procedure.
	ErrInvalidSpan = errors.New("invalid span")
)
