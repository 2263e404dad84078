package production

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

const tokenBytes = 24

func newScanToken(batchID string, now time.Time, ttl time.Duration) (ScanToken, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return ScanToken{}, fmt.Errorf("production: generate scan token: %w", err)
	}
	t := ScanToken{
		Token:     base64.RawURLEncoding.EncodeToString(buf),
		BatchID:   batchID,
		CreatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		t.ExpiresAt = &exp
	}
	return t, nil
}
