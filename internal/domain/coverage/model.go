// Package coverage turns upstream policy data into a presentation status for
// an insured person: which source is trusted, whether the policy is inside its
// validity window, and whether the product belongs to the configured program.
package coverage

import (
	json "github.com/goccy/go-json"
)

// Coverage statuses shown to the client.
const (
	StatusActive   = "active"
	StatusPending  = "pending"
	StatusInactive = "inactive"
	StatusUnknown  = "unknown"
)

// Canonical policy statuses.
const (
	PolicyActive    = "ACTIVE"
	PolicyDraft     = "DRAFT"
	PolicySuspended = "SUSPENDED"
	PolicyExpired   = "EXPIRED"
	PolicyCancelled = "CANCELLED"
	PolicyReady     = "READY"
	PolicyPending   = "PENDING"
)

// Reasons that are not produced by the decision table.
const (
	ReasonNoGroupPolicy = "no_group_policy"
	ReasonNoAMGCoverage = "no_amg_coverage"
	ReasonUnknown       = "unknown"
)

// Source identifies where a policy came from.
type Source string

const (
	SourceFamilyPolicy   Source = "graphql_family_policy"
	SourceInsureeInquiry Source = "graphql_insuree_inquiry"
	SourceFHIRCoverage   Source = "fhir_coverage"
	SourceFHIRContract   Source = "fhir_contract"
	SourceCachedContract Source = "cached_contract"
)

// ReasonPrefix is the audit prefix attached to decision reasons.
func (s Source) ReasonPrefix() string {
	switch s {
	case SourceFamilyPolicy:
		return "graphql_"
	case SourceInsureeInquiry:
		return "graphql_fallback_"
	case SourceFHIRCoverage:
		return "fallback_"
	case SourceFHIRContract:
		return "contract_"
	case SourceCachedContract:
		return "cached_"
	}
	return ""
}

// PolicyDates are kept as the upstream strings; null when absent.
type PolicyDates struct {
	StartDate     *string `json:"startDate"`
	EffectiveDate *string `json:"effectiveDate"`
	ExpiryDate    *string `json:"expiryDate"`
}

// NewPolicyDates builds PolicyDates, mapping empty strings to null.
func NewPolicyDates(start, effective, expiry string) PolicyDates {
	return PolicyDates{
		StartDate:     nullable(start),
		EffectiveDate: nullable(effective),
		ExpiryDate:    nullable(expiry),
	}
}

// Start is startDate, falling back to effectiveDate.
func (d PolicyDates) Start() string {
	if d.StartDate != nil && *d.StartDate != "" {
		return *d.StartDate
	}
	if d.EffectiveDate != nil {
		return *d.EffectiveDate
	}
	return ""
}

// End is expiryDate.
func (d PolicyDates) End() string {
	if d.ExpiryDate != nil {
		return *d.ExpiryDate
	}
	return ""
}

// Empty reports whether no date is set at all.
func (d PolicyDates) Empty() bool {
	return d.StartDate == nil && d.EffectiveDate == nil && d.ExpiryDate == nil
}

// Policy is the single authoritative policy of a request.
type Policy struct {
	Source      Source
	Status      string // canonical, "" when unknown
	Dates       PolicyDates
	ProductName string
	ProductCode string
	// Data is the upstream record the policy was read from, passed through
	// to clients as policyData.
	Data json.RawMessage
}

// Decision is the result of the status table.
type Decision struct {
	Status string
	Reason string
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
