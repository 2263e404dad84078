package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// RequireStore validates a store scope identifier. Every repository operation is keyed by
// an explicit store id; there is no ambient tenant.
func RequireStore(storeID string) error {
	if storeID == "" {
		return fmt.Errorf("store id required: %w", ErrValidation)
	}
	if _, err := uuid.Parse(storeID); err != nil {
		return fmt.Errorf("store id %q: %w", storeID, ErrValidation)
	}
	return nil
}
