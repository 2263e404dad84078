// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/stitchline/stitchline/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrInventoryInvariant):
		Problem(w, http.StatusConflict, "Inventory Invariant Violation", err.Error())
	case errors.Is(err, shared.ErrPrintGate):
		Problem(w, http.StatusUnprocessableEntity, "Print Gate Violation", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// IsClientError reports whether err maps to a 4xx response.
func IsClientError(err error) bool {
	return errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrInvalidTransition) ||
		errors.Is(err, shared.ErrInventoryInvariant) ||
		errors.Is(err, shared.ErrPrintGate) ||
		errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrConflict)
}
