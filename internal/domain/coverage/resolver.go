package coverage

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Attempt records what one source returned.
type Attempt struct {
	Source Source
	Found  bool
	Err    error
}

// Resolution is the outcome of walking the sources.
type Resolution struct {
	Policy   *Policy
	Attempts []Attempt
}

// Attempt returns the recorded attempt for src, if that source ran.
func (r Resolution) Attempt(src Source) (Attempt, bool) {
	for _, a := range r.Attempts {
		if a.Source == src {
			return a, true
		}
	}
	return Attempt{}, false
}

// ErrorText joins the failures of all sources, or nil when none failed.
func (r Resolution) ErrorText() *string {
	var parts []string
	for _, a := range r.Attempts {
		if a.Err != nil {
			parts = append(parts, string(a.Source)+": "+a.Err.Error())
		}
	}
	if len(parts) == 0 {
		return nil
	}
	s := strings.Join(parts, " | ")
	return &s
}

// Resolver tries its sources in order and stops at the first policy.
type Resolver struct {
	sources []PolicySource
	logger  zerolog.Logger
}

func NewResolver(logger zerolog.Logger, sources ...PolicySource) *Resolver {
	return &Resolver{
		sources: sources,
		logger:  logger.With().Str("component", "coverage-resolver").Logger(),
	}
}

func (r *Resolver) Resolve(ctx context.Context, sub Subject) Resolution {
	var res Resolution
	for _, src := range r.sources {
		p, err := src.Lookup(ctx, sub)
		res.Attempts = append(res.Attempts, Attempt{Source: src.Source(), Found: p != nil, Err: err})
		if err != nil {
			r.logger.Warn().Err(err).
				Str("source", string(src.Source())).
				Str("patient_id", sub.PatientID).
				Str("family_uuid", sub.FamilyUUID).
				Msg("policy source failed")
			continue
		}
		if p != nil {
			r.logger.Info().
				Str("source", string(src.Source())).
				Str("patient_id", sub.PatientID).
				Str("policy_status", p.Status).
				Str("product_code", p.ProductCode).
				Msg("policy resolved")
			res.Policy = p
			return res
		}
	}
	r.logger.Info().Str("patient_id", sub.PatientID).Str("group_id", sub.GroupID).Msg("no policy found")
	return res
}

// Assessment is the final coverage verdict of a request.
type Assessment struct {
	CoverageStatus string
	CoverageReason string
	PolicyStatus   *string
	PolicyDates    PolicyDates
	EnvAllowed     bool
}

// AssessInput carries everything Assess needs.
type AssessInput struct {
	Policy *Policy
	// PlanName is the Coverage class value, also checked by the guard.
	PlanName      string
	GroupResolved bool
	Guard         GuardConfig
	Now           time.Time
}

// Assess decides the coverage status and then applies the overrides: no
// policy is never active, and a product outside the allow-list is inactive
// whatever its status.
func Assess(in AssessInput) Assessment {
	if in.Policy == nil {
		a := Assessment{CoverageStatus: StatusInactive, CoverageReason: ReasonUnknown}
		if in.GroupResolved {
			a.CoverageReason = ReasonNoGroupPolicy
		}
		return a
	}

	p := in.Policy
	a := Assessment{
		PolicyDates: p.Dates,
		EnvAllowed:  in.Guard.Allows(p.ProductName, p.ProductCode, in.PlanName),
	}
	if p.Status != "" {
		status := p.Status
		a.PolicyStatus = &status
	}

	d := DecidePolicy(p, in.Now)
	a.CoverageStatus, a.CoverageReason = d.Status, d.Reason
	if !a.EnvAllowed {
		a.CoverageStatus, a.CoverageReason = StatusInactive, ReasonNoAMGCoverage
	}
	return a
}

// AssessGroup derives the family status from the family policy. prefix is
// "group_" or "fallback_group_". lookedUp tells whether the family policy
// was queried successfully; a missing policy is then shown as inactive.
func AssessGroup(prefix string, p *Policy, lookedUp bool, now time.Time) Decision {
	if p == nil {
		if lookedUp {
			return Decision{Status: StatusInactive, Reason: ReasonNoGroupPolicy}
		}
		return Decision{Status: StatusUnknown}
	}
	return Decide(prefix, p.Status, true, p.Dates, now)
}
