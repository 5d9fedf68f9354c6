package contract

import (
	"time"

	"github.com/amgpay/portal/internal/domain/coverage"
	"github.com/amgpay/portal/internal/platform/fhir"
)

// Evaluation is what the portal derives from a contract: the family it
// belongs to, its asset period and whether its premium was paid.
type Evaluation struct {
	GroupID     string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	PeriodValid bool
	HasPayment  bool
}

// IsActive is true for a paid contract inside its period.
func (e Evaluation) IsActive() bool {
	return e.PeriodValid && e.HasPayment
}

// Evaluate inspects a contract. ok is false when its subject is not a Group.
func Evaluate(c *fhir.Contract, now time.Time) (Evaluation, bool) {
	groupID, ok := c.GroupID()
	if !ok {
		return Evaluation{}, false
	}
	ev := Evaluation{GroupID: groupID, HasPayment: c.HasPremiumReceipt()}
	if p := c.AssetPeriod(); p != nil {
		start, okStart := fhir.ParseDate(p.Start)
		end, okEnd := fhir.ParseDate(p.End)
		if okStart {
			ev.PeriodStart = &start
		}
		if okEnd {
			ev.PeriodEnd = &end
		}
		ev.PeriodValid = okStart && okEnd && !now.Before(start) && !now.After(end)
	}
	return ev, true
}

// ToCached builds the amg_contracts row of a Group contract.
func ToCached(c *fhir.Contract, now time.Time) (*CachedContract, bool) {
	if c.ID == "" {
		return nil, false
	}
	ev, ok := Evaluate(c, now)
	if !ok {
		return nil, false
	}
	return &CachedContract{
		ID:          c.ID,
		GroupID:     ev.GroupID,
		Data:        c.Raw,
		PeriodStart: ev.PeriodStart,
		PeriodEnd:   ev.PeriodEnd,
		HasPayment:  ev.HasPayment,
		IsActive:    ev.IsActive(),
		LastUpdated: now,
	}, true
}

// ToPolicy maps a contract to a policy. A paid contract reads as ACTIVE and
// an unpaid one as PENDING; the asset period provides the dates.
func ToPolicy(src coverage.Source, c *fhir.Contract) *coverage.Policy {
	status := coverage.PolicyPending
	if c.HasPremiumReceipt() {
		status = coverage.PolicyActive
	}
	var start, end string
	if p := c.AssetPeriod(); p != nil {
		start, end = p.Start, p.End
	}
	return &coverage.Policy{
		Source: src,
		Status: status,
		Dates:  coverage.NewPolicyDates(start, start, end),
		Data:   c.Raw,
	}
}
