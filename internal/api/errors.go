package api

import (
	"errors"
	"net/http"

	"github.com/aquamart/dispatch/pkg/models"
)

// statusForError maps domain sentinels to HTTP status codes. Anything
// unmapped is a 500; the handler logs the original error before responding.
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidCart),
		errors.Is(err, models.ErrInvalidAddress),
		errors.Is(err, models.ErrInvalidQuote):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyAccepted),
		errors.Is(err, models.ErrDuplicateQuote),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrOrderClosed):
		return http.StatusConflict
	case errors.Is(err, models.ErrRequestNotOpen),
		errors.Is(err, models.ErrQuoteExpired):
		return http.StatusGone
	case errors.Is(err, models.ErrCodeMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrNotRequestOwner),
		errors.Is(err, models.ErrNotAssignedProvider),
		errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
