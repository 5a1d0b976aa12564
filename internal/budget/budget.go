package budget

import (
	"fmt"
	"time"
)

// Reasons returned by Check, in precedence order.
const (
	ReasonMaxCalls    = "max_calls"
	ReasonTimeout     = "timeout"
	ReasonMaxEntities = "max_entities"
)

// Config defines the ceilings for a single session. Values are fixed at
// session start and never change mid-run.
type Config struct {
	MaxCalls    int
	Timeout     time.Duration
	MaxEntities int
	CallTimeout time.Duration
}

// Validate ensures the ceilings are sane before a session starts.
func (c Config) Validate() error {
	if c.MaxCalls < 1 {
		return fmt.Errorf("max_calls must be >= 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0")
	}
	if c.MaxEntities < 1 {
		return fmt.Errorf("max_entities must be >= 1")
	}
	return nil
}

// Usage is a snapshot of the session counters the enforcer evaluates.
type Usage struct {
	CallCount   int
	StartedAt   time.Time
	EntityCount int
}

// Check evaluates usage against the ceilings. It is a pure function of its
// inputs; the first violated ceiling wins (call count before time before
// entity count).
func (c Config) Check(u Usage, now time.Time) (ok bool, reason string) {
	if u.CallCount >= c.MaxCalls {
		return false, ReasonMaxCalls
	}
	if now.Sub(u.StartedAt) >= c.Timeout {
		return false, ReasonTimeout
	}
	if u.EntityCount >= c.MaxEntities {
		return false, ReasonMaxEntities
	}
	return true, ""
}

// Deadline returns the absolute whole-session deadline.
func (c Config) Deadline(startedAt time.Time) time.Time {
	return startedAt.Add(c.Timeout)
}

// ErrExceeded is returned when usage surpasses a configured ceiling.
type ErrExceeded struct {
	Reason string
	Usage  string
	Limit  string
}

func (e ErrExceeded) Error() string {
	if e.Limit != "" {
		return fmt.Sprintf("budget %s exceeded: usage=%s limit=%s", e.Reason, e.Usage, e.Limit)
	}
	return fmt.Sprintf("budget %s exceeded: usage=%s", e.Reason, e.Usage)
}
