package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a rejected lifecycle move.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInventoryInvariant indicates a stock mutation would break 0 <= reserved <= on hand.
	ErrInventoryInvariant = errors.New("inventory invariant violation")
	// ErrPrintGate indicates a batch is not cleared for the print stage.
	ErrPrintGate = errors.New("print gate violation")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness clash.
	ErrConflict = errors.New("conflict")
)
