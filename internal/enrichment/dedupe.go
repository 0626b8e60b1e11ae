package enrichment

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DedupeKey derives the deterministic key each outbound request
// carries so the remote side can recognize duplicates from retries.
// Attempts are bucketed by the retry budget: every retry within one
// budget shares a key. An operator requeue resets the attempt count
// and deliberately re-presents the original key, so any effect an
// earlier cycle already applied is recognized instead of repeated.
// Only an attempt count pushed past the budget, as repeated claim
// reclaims can produce, rolls into a fresh bucket.
func DedupeKey(entityID, eventType string, attemptCount, maxAttempts int) string {
	bucket := 0
	if maxAttempts > 0 {
		bucket = attemptCount / maxAttempts
	}
	sum := blake2b.Sum256([]byte(fmt.Sprintf("%s|%s|%d", entityID, eventType, bucket)))
	return fmt.Sprintf("%x", sum[:16])
}
