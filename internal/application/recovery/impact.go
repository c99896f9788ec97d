package recovery

import (
	"time"

	"github.com/garyjia/cash-clearing/internal/domain/failure"
)

// assessImpact starts from the severity baseline and escalates one level per
// aggravating factor present in the operational context
func (c *Classifier) assessImpact(severity failure.Severity, opCtx failure.OperationalContext, now time.Time) failure.BusinessImpact {
	impact := failure.BusinessImpact{Level: failure.BaselineImpact(severity)}

	escalate := func(factor string) {
		impact.Level = impact.Level.Escalate()
		impact.Factors = append(impact.Factors, factor)
	}

	if opCtx.BatchSize > c.cfg.LargeBatchSize {
		escalate(failure.FactorLargeBatch)
	}
	if IsTimeSensitive(now) {
		escalate(failure.FactorTimeSensitive)
	}
	if opCtx.TotalAmount > c.cfg.HighValueAmount {
		escalate(failure.FactorHighValue)
	}
	if opCtx.CustomerFacing || opCtx.Regulatory {
		escalate(failure.FactorCustomerFacing)
	}

	return impact
}

// IsTimeSensitive reports whether t falls in a close window: the last three
// days of any month, or the last week of a quarter-end month
func IsTimeSensitive(t time.Time) bool {
	lastDay := time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	daysLeft := lastDay - t.Day()

	if daysLeft < 3 {
		return true
	}

	switch t.Month() {
	case time.March, time.June, time.September, time.December:
		return daysLeft < 7
	}
	return false
}
