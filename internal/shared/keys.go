package shared

import "fmt"

// FeatureFlagKey builds the redis key caching one store flag.
func FeatureFlagKey(storeID, flag string) string {
	return fmt.Sprintf("stitchline:flags:%s:%s", storeID, flag)
}
