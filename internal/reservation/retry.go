package reservation

import (
	"fmt"
	"time"
)

type RetryMode int

const (
	// RetryByDuration bounds the retry loop by wall-clock time.
	RetryByDuration RetryMode = iota
	// RetryByCount bounds the retry loop by number of attempts.
	RetryByCount
)

func (m RetryMode) String() string {
	switch m {
	case RetryByDuration:
		return "duration"
	case RetryByCount:
		return "count"
	default:
		return fmt.Sprintf("RetryMode(%d)", int(m))
	}
}

// RetryPolicy is a tagged value: Budget applies only to RetryByDuration and
// MaxAttempts only to RetryByCount.
type RetryPolicy struct {
	Mode        RetryMode
	Interval    time.Duration
	Budget      time.Duration
	MaxAttempts int
}

func DurationPolicy(interval, budget time.Duration) RetryPolicy {
	return RetryPolicy{Mode: RetryByDuration, Interval: interval, Budget: budget}
}

func CountPolicy(interval time.Duration, attempts int) RetryPolicy {
	return RetryPolicy{Mode: RetryByCount, Interval: interval, MaxAttempts: attempts}
}

func (p RetryPolicy) Validate() error {
	if p.Interval < 0 {
		return fmt.Errorf("retry interval must be >= 0")
	}
	switch p.Mode {
	case RetryByDuration:
		if p.Budget <= 0 {
			return fmt.Errorf("retry duration must be > 0")
		}
	case RetryByCount:
		if p.MaxAttempts < 1 {
			return fmt.Errorf("retry count must be >= 1")
		}
	default:
		return fmt.Errorf("unknown retry mode %d", int(p.Mode))
	}
	return nil
}

// Exhausted reports whether another attempt may not be started. In duration
// mode no attempt starts after the budget has elapsed, counting the pause
// before it.
func (p RetryPolicy) Exhausted(attempts int, elapsed time.Duration) bool {
	if p.Mode == RetryByCount {
		return attempts >= p.MaxAttempts
	}
	return elapsed+p.Interval > p.Budget
}

func (p RetryPolicy) String() string {
	if p.Mode == RetryByCount {
		return fmt.Sprintf("%d attempts every %s", p.MaxAttempts, p.Interval)
	}
	return fmt.Sprintf("%s budget every %s", p.Budget, p.Interval)
}
