package limiter

import "time"

// Admission applies the rate window first and then the concurrency gate.
type Admission struct {
	Rate *RateLimiter
	Gate *ConcurrencyGate
}

// NewAdmission wires a rate limiter and a concurrency gate together.
func NewAdmission(rate *RateLimiter, gate *ConcurrencyGate) *Admission {
	return &Admission{Rate: rate, Gate: gate}
}

// TryAdmit reports whether a fetch may start now. On success the caller owns
// one gate slot and must Release it exactly once. A window slot consumed by a
// call that then fails on the gate is not refunded.
func (a *Admission) TryAdmit(now time.Time) bool {
	if !a.Rate.TryAdmit(now) {
		return false
	}
	return a.Gate.TryAcquire()
}

// Release gives back the gate slot obtained from TryAdmit.
func (a *Admission) Release() {
	a.Gate.Release()
}
