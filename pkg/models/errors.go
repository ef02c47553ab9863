package models

import "errors"

// Sentinel errors returned by the dispatch core. The API layer maps these to
// HTTP status codes; callers inside the process match with errors.Is.
var (
	// Validation
	ErrInvalidCart    = errors.New("cart has no line items")
	ErrInvalidAddress = errors.New("destination address is incomplete")
	ErrInvalidQuote   = errors.New("quote fee or eta is not valid")

	// Lookup
	ErrNotFound = errors.New("entity not found")

	// Conflict
	ErrAlreadyAccepted   = errors.New("request already has an accepted quote")
	ErrDuplicateQuote    = errors.New("provider already has a pending quote on this request")
	ErrInvalidTransition = errors.New("transition not allowed from current state")
	ErrOrderClosed       = errors.New("order is delivered or cancelled")

	// Expiry (terminal)
	ErrRequestNotOpen = errors.New("request is not open")
	ErrQuoteExpired   = errors.New("quote validity window has passed")

	// Mismatch (retryable)
	ErrCodeMismatch = errors.New("confirmation code does not match")

	// Authorization
	ErrNotRequestOwner     = errors.New("caller does not own this request")
	ErrNotAssignedProvider = errors.New("caller is not the assigned provider")
	ErrForbidden           = errors.New("caller may not view this entity")

	// Outbound
	ErrTimeout = errors.New("upstream call timed out")
)
