// Package lockout implements the account-lockout state machine as pure
// transition functions. The store persists the resulting state; this package
// performs no I/O.
//
// An account is either active or locked. Failed attempts increment a counter;
// reaching Threshold locks the account. There is no time-based unlock: only
// an explicit administrative unlock returns a locked account to active.
package lockout

// Threshold is the number of consecutive failed attempts after which an
// account stops accepting further attempts.
const Threshold = 5

// State is the per-account lockout state persisted by the store.
type State struct {
	Locked         bool
	FailedAttempts int
}

// CanAttempt reports whether an authentication attempt may be evaluated.
// Attempts against a locked account are rejected before any hashing work.
func CanAttempt(s State) bool {
	return !s.Locked
}

// OnFailure returns the state after a failed attempt. The counter is
// incremented and the account locks when it reaches Threshold. Calling
// OnFailure on a locked state is a no-op: rejected attempts do not count.
func OnFailure(s State) State {
	if s.Locked {
		return s
	}
	s.FailedAttempts++
	if s.FailedAttempts >= Threshold {
		s.Locked = true
	}
	return s
}

// OnSuccess returns the state after a successful attempt: counter reset,
// account active.
func OnSuccess(State) State {
	return State{}
}

// Unlock returns the state after an explicit administrative unlock. It is
// idempotent: unlocking an active account leaves it active with a zero
// counter.
func Unlock(State) State {
	return State{}
}
