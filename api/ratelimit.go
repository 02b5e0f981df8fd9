package api

import (
	"sync"
	"time"
)

// loginRateLimiter tracks failed login attempts per principal and enforces
// exponential backoff. Failed-proof lockouts protect the proof hash from
// online guessing; the KDF already makes offline guessing expensive.
type loginRateLimiter struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

const (
	// maxFailures is the number of consecutive failures before lockout begins.
	maxFailures = 5
	// baseLockout is the initial lockout duration after maxFailures is reached.
	baseLockout = 1 * time.Minute
	// maxLockout caps the exponential backoff.
	maxLockout = 15 * time.Minute
	// attemptExpiry is how long after the last failure before the record is
	// garbage-collected.
	attemptExpiry = 1 * time.Hour
)

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		attempts: make(map[string]*attemptRecord),
	}
}

// check returns true if the principal is currently locked out, along with
// how long the caller should wait. A zero duration means the request may
// proceed.
func (rl *loginRateLimiter) check(principal string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[principal]
	if !ok {
		return false, 0
	}
	// Expire stale records.
	if time.Since(rec.lastFailure) > attemptExpiry {
		delete(rl.attempts, principal)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

// recordFailure increments the failure counter and applies exponential
// backoff once maxFailures is exceeded.
func (rl *loginRateLimiter) recordFailure(principal string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[principal]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[principal] = rec
	}
	rec.failures++
	rec.lastFailure = time.Now()

	if rec.failures >= maxFailures {
		lockout := baseLockout << (rec.failures - maxFailures)
		if lockout > maxLockout || lockout <= 0 {
			lockout = maxLockout
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

// recordSuccess clears the failure history for a principal.
func (rl *loginRateLimiter) recordSuccess(principal string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, principal)
}
