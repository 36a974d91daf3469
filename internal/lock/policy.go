package lock

import "time"

// Policy defaults.
const (
	// DefaultStaleAfter is how long a snapshot is trusted without reconfirmation.
	DefaultStaleAfter = 30 * time.Second

	// DefaultRefreshAttempts is the number of list+state rounds per refresh.
	DefaultRefreshAttempts = 3

	// DefaultCommandAttempts is the number of tries for a blocking lock/unlock.
	DefaultCommandAttempts = 3
)

// DefaultErrorStates are the device status codes that mark a lock unavailable:
// 0 (uncalibrated), 254 (motor blocked) and 255 (undefined).
var DefaultErrorStates = []int{0, 254, 255}

// Policy holds the retry and staleness settings for a Reconciler.
type Policy struct {
	// StaleAfter is the age after which a cached snapshot is refreshed.
	StaleAfter time.Duration

	// RefreshAttempts bounds the outer refresh loop.
	RefreshAttempts int

	// CommandAttempts bounds the lock/unlock retry loop.
	CommandAttempts int

	// ErrorStates lists status codes that make a lock unavailable.
	ErrorStates []int

	// CommandDeadline caps the wall-clock time of a single lock/unlock
	// including its retries. Zero means no deadline.
	CommandDeadline time.Duration
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	errorStates := make([]int, len(DefaultErrorStates))
	copy(errorStates, DefaultErrorStates)

	return Policy{
		StaleAfter:      DefaultStaleAfter,
		RefreshAttempts: DefaultRefreshAttempts,
		CommandAttempts: DefaultCommandAttempts,
		ErrorStates:     errorStates,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.StaleAfter <= 0 {
		p.StaleAfter = def.StaleAfter
	}
	if p.RefreshAttempts <= 0 {
		p.RefreshAttempts = def.RefreshAttempts
	}
	if p.CommandAttempts <= 0 {
		p.CommandAttempts = def.CommandAttempts
	}
	if len(p.ErrorStates) == 0 {
		p.ErrorStates = def.ErrorStates
	}
	return p
}

// IsErrorState reports whether state is one of the policy's error codes.
func (p Policy) IsErrorState(state int) bool {
	for _, s := range p.ErrorStates {
		if s == state {
			return true
		}
	}
	return false
}
