package domain

import "time"

// Call carries what the execution environment attaches to one invocation:
// the caller identity and the ledger time of the call. Environments must
// supply non-decreasing times across mutating calls.
type Call struct {
	Caller Address
	At     time.Time
}

// NewCall builds a call for the raw caller identity at the given instant.
func NewCall(caller string, at time.Time) Call {
	return Call{Caller: NormalizeAddress(caller), At: at.UTC()}
}
