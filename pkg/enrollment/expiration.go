package enrollment

import "time"

// DefaultChallengeTTL is the time window during which a challenge is valid.
const DefaultChallengeTTL = 5 * time.Minute

// IsChallengeExpired reports whether now is past expiresAt. A challenge is
// still valid at exactly its expiry instant.
//
// SECURITY: Pass time.Now() at the callsite rather than relying on
// internal time.Now() calls to avoid TOCTOU races in security-critical
// code paths.
func IsChallengeExpired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}
