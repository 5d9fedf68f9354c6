package coverage

import (
	"time"

	"github.com/amgpay/portal/internal/platform/fhir"
)

// InWindow reports whether now lies in [start, expiry], both inclusive.
// A missing or unparseable bound means the policy is not in its window.
func InWindow(d PolicyDates, now time.Time) bool {
	start, ok := fhir.ParseDate(d.Start())
	if !ok {
		return false
	}
	end, ok := fhir.ParseDate(d.End())
	if !ok {
		return false
	}
	return !now.Before(start) && !now.After(end)
}

// Decide applies the status table to one policy. prefix is the reason prefix
// of the policy source; policyPresent is false only when the caller has no
// policy record and passes dates from elsewhere.
func Decide(prefix, status string, policyPresent bool, dates PolicyDates, now time.Time) Decision {
	switch status {
	case PolicyReady, PolicyPending:
		return Decision{Status: StatusPending, Reason: prefix + "pending_status"}
	case PolicyExpired, PolicySuspended, PolicyCancelled:
		return Decision{Status: StatusInactive, Reason: prefix + "inactive_status"}
	}

	if !InWindow(dates, now) {
		if status == PolicyDraft {
			return Decision{Status: StatusPending, Reason: prefix + "pending_status"}
		}
		return Decision{Status: StatusInactive, Reason: prefix + "out_of_window"}
	}

	switch {
	case status == PolicyActive:
		return Decision{Status: StatusActive, Reason: prefix + "active_in_window"}
	case status == PolicyDraft:
		return Decision{Status: StatusActive, Reason: prefix + "draft_in_window"}
	case status == "" && policyPresent:
		return Decision{Status: StatusActive, Reason: prefix + "policy_in_window"}
	}
	return Decision{Status: StatusInactive, Reason: prefix + "unknown_status"}
}

// DecidePolicy is Decide for a resolved policy using its source prefix.
func DecidePolicy(p *Policy, now time.Time) Decision {
	return Decide(p.Source.ReasonPrefix(), p.Status, true, p.Dates, now)
}
