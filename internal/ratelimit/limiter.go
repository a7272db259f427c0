package ratelimit

import "time"

// Class separates anonymous visitors from signed-in members.
type Class int

const (
	Anonymous Class = iota
	Authenticated
)

func (c Class) String() string {
	if c == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// ClassOf maps session presence to a caller class.
func ClassOf(authenticated bool) Class {
	if authenticated {
		return Authenticated
	}
	return Anonymous
}

type Policy struct {
	Window             time.Duration // fixed window length, shared by both classes
	AnonymousLimit     int           // calls per window
	AuthenticatedLimit int           // calls per window
	SweepInterval      time.Duration // min spacing between expired-entry sweeps
}

var DefaultPolicy = Policy{
	Window:             time.Minute,
	AnonymousLimit:     10,
	AuthenticatedLimit: 30,
	SweepInterval:      5 * time.Minute,
}

// LimitFor returns the per-window limit for the caller class.
func (p Policy) LimitFor(c Class) int {
	if c == Authenticated {
		return p.AuthenticatedLimit
	}
	return p.AnonymousLimit
}

type Decision struct {
	Limited    bool
	RetryAfter int       // whole seconds until the window resets, set only when Limited
	Limit      int       // limit applied to this caller
	Remaining  int       // calls left in the current window (min 0)
	ResetAt    time.Time // end of the current window
}

type Limiter interface {
	Check(key string, c Class, now time.Time) Decision
	Close() error
}
