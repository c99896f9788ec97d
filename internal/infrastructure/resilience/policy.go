package resilience

import "time"

// Policy bounds how hard a guard retries one call site and when its breaker opens
type Policy struct {
	Attempts      int
	FirstBackoff  time.Duration
	BackoffCap    time.Duration
	BackoffFactor float64

	// Breaker turns the per-site circuit breakers on
	Breaker bool
	// TripAfter is the number of calls a breaker sees before it may open
	TripAfter uint32
	// TripRatio is the share of counted failures that opens it
	TripRatio float64
	// Cooldown is how long an open breaker refuses calls before letting trial calls through
	Cooldown      time.Duration
	HalfOpenCalls uint32
}

// StorePolicy suits SQLite: busy and locked errors clear within milliseconds
func StorePolicy() Policy {
	return Policy{
		Attempts:      3,
		FirstBackoff:  50 * time.Millisecond,
		BackoffCap:    400 * time.Millisecond,
		BackoffFactor: 2.0,
		Breaker:       true,
		TripAfter:     10,
		TripRatio:     0.5,
		Cooldown:      30 * time.Second,
		HalfOpenCalls: 2,
	}
}

// OraclePolicy suits the completion API, where throttling lasts seconds
func OraclePolicy() Policy {
	p := StorePolicy()
	p.FirstBackoff = 500 * time.Millisecond
	p.BackoffCap = 5 * time.Second
	p.TripAfter = 5
	return p
}

// orDefaults fills every unset or out-of-range field from def
func (p Policy) orDefaults(def Policy) Policy {
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.FirstBackoff <= 0 {
		p.FirstBackoff = def.FirstBackoff
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = def.BackoffCap
	}
	if p.BackoffCap < p.FirstBackoff {
		p.BackoffCap = p.FirstBackoff
	}
	if p.BackoffFactor < 1.0 {
		p.BackoffFactor = def.BackoffFactor
	}
	if p.TripAfter == 0 {
		p.TripAfter = def.TripAfter
	}
	if p.TripRatio <= 0 || p.TripRatio > 1 {
		p.TripRatio = def.TripRatio
	}
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	if p.HalfOpenCalls == 0 {
		p.HalfOpenCalls = def.HalfOpenCalls
	}
	return p
}

// wait returns the pause after the given failed attempt, starting at 1
func (p Policy) wait(attempt int) time.Duration {
	d := float64(p.FirstBackoff)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffFactor
		if d >= float64(p.BackoffCap) {
			return p.BackoffCap
		}
	}
	return time.Duration(d)
}
