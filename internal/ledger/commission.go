package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// The commission rate is 1.5%, expressed as numerator/denominator so the math
// stays in integers.
const (
	commissionNumerator   = 3
	commissionDenominator = 200
)

// Commission is the sender fee, rounded up to the next minor unit. Rounding
// up is an invariant: repeated sub-cent truncation would leak value out of
// the closed system.
func Commission(amount int64) int64 {
	return (amount*commissionNumerator + commissionDenominator - 1) / commissionDenominator
}

// TotalDebited is what leaves the sender's balance for a given amount.
func TotalDebited(amount int64) int64 {
	return amount + Commission(amount)
}

// DeriveIdempotencyKey builds a key for callers that omit the
// Idempotency-Key header. Clients retrying the same logical request should
// supply their own key instead, so the retry collapses across clock drift.
func DeriveIdempotencyKey(senderID, receiverID, amount int64, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%d|%d", senderID, receiverID, amount, ts.Unix())))
	return hex.EncodeToString(sum[:])
}
