package httpx

import (
	"errors"
	"net/http"

	"github.com/volta-ems/volta/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		notFound    *shared.NotFoundError
		conflict    *shared.ConflictError
		noStock     *shared.InsufficientStockError
		noAvailable *shared.InsufficientAvailableError
		badTransit  *shared.InvalidTransitionError
		badInput    *shared.ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &conflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.As(err, &noStock):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.As(err, &noAvailable):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Available Quantity", err.Error())
	case errors.As(err, &badTransit):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.As(err, &badInput):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
