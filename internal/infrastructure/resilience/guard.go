// Package resilience guards store and oracle calls with bounded retry and a
// circuit breaker per call site.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Verdict is how a guard treats one failed call
type Verdict struct {
	// Retry marks the failure as transient, e.g. SQLITE_BUSY or HTTP 429
	Retry bool
	// Trip counts the failure toward opening the site's breaker. Caller
	// mistakes such as constraint violations leave it false.
	Trip bool
}

// Judge maps an error from a guarded call to its Verdict
type Judge func(err error) Verdict

// Guard wraps the calls a component makes to one dependency. Each call site
// ("suggestions.create", "oracle.match_patterns") gets its own breaker so one
// failing query does not cut off the rest.
type Guard struct {
	policy Policy
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewGuard creates a guard. Unset policy fields take StorePolicy values; a nil logger disables logging.
func NewGuard(policy Policy, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		policy:   policy.orDefaults(StorePolicy()),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Do runs call for site, retrying while judge calls the failure transient. With
// the site's breaker open, call is skipped and Refused reports true for the error.
// A nil judge treats every failure as final and counted.
func (g *Guard) Do(ctx context.Context, site string, call func(context.Context) error, judge Judge) error {
	if call == nil {
		return fmt.Errorf("resilience: nil call for %q", site)
	}
	site = strings.TrimSpace(site)
	if site == "" {
		site = "unnamed"
	}
	if judge == nil {
		judge = finalFailure
	}

	if !g.policy.Breaker {
		return g.retry(ctx, site, call, judge)
	}
	_, err := g.breaker(site, judge).Execute(func() (struct{}, error) {
		return struct{}{}, g.retry(ctx, site, call, judge)
	})
	return err
}

// Open reports whether the breaker for site is refusing calls
func (g *Guard) Open(site string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[site]
	return ok && cb.State() == gobreaker.StateOpen
}

// Refused reports whether err came from a breaker that skipped the call
func Refused(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (g *Guard) retry(ctx context.Context, site string, call func(context.Context) error, judge Judge) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = call(ctx); err == nil {
			return nil
		}
		if attempt >= g.policy.Attempts || !judge(err).Retry {
			return err
		}

		wait := g.policy.wait(attempt)
		g.logger.Warn("Transient failure, retrying",
			zap.String("site", site),
			zap.Int("attempt", attempt),
			zap.Int("attempts", g.policy.Attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (g *Guard) breaker(site string, judge Judge) *gobreaker.CircuitBreaker[struct{}] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[site]; ok {
		return cb
	}

	p := g.policy
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        site,
		MaxRequests: p.HalfOpenCalls,
		Timeout:     p.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= p.TripAfter &&
				float64(c.TotalFailures)/float64(c.Requests) >= p.TripRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !judge(err).Trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log := g.logger.Info
			if to == gobreaker.StateOpen {
				log = g.logger.Warn
			}
			log("Breaker state changed",
				zap.String("site", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	g.breakers[site] = cb
	return cb
}

func finalFailure(error) Verdict {
	return Verdict{Trip: true}
}
