package coverage

import (
	"context"
	"fmt"

	"github.com/amgpay/portal/internal/platform/fhir"
	"github.com/amgpay/portal/internal/upstream"
)

// Subject is what the sources know about the insured person.
type Subject struct {
	Token      string
	PatientID  string
	GroupID    string
	FamilyUUID string
	// Coverage is the patient's Coverage bundle when it was already fetched.
	Coverage *fhir.Bundle
}

// PolicySource is one place a policy can be read from. Lookup returns
// (nil, nil) when the source has nothing for the subject and an error only
// when the source itself failed.
type PolicySource interface {
	Source() Source
	Lookup(ctx context.Context, sub Subject) (*Policy, error)
}

// FamilyPolicyFetcher is satisfied by *upstream.Client.
type FamilyPolicyFetcher interface {
	PoliciesByFamily(ctx context.Context, token, familyUUID string) (*upstream.FamilyPolicy, error)
}

// CoverageFetcher is satisfied by *upstream.Client.
type CoverageFetcher interface {
	SearchCoverage(ctx context.Context, token, patientID string) (*fhir.Bundle, error)
}

// FamilyPolicySource reads the GraphQL policiesByFamily node.
type FamilyPolicySource struct {
	client FamilyPolicyFetcher
}

func NewFamilyPolicySource(client FamilyPolicyFetcher) *FamilyPolicySource {
	return &FamilyPolicySource{client: client}
}

func (s *FamilyPolicySource) Source() Source { return SourceFamilyPolicy }

func (s *FamilyPolicySource) Lookup(ctx context.Context, sub Subject) (*Policy, error) {
	if sub.FamilyUUID == "" {
		return nil, nil
	}
	node, err := s.client.PoliciesByFamily(ctx, sub.Token, sub.FamilyUUID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	return FamilyPolicyToPolicy(node), nil
}

// FamilyPolicyToPolicy converts a policiesByFamily node.
func FamilyPolicyToPolicy(node *upstream.FamilyPolicy) *Policy {
	return &Policy{
		Source:      SourceFamilyPolicy,
		Status:      NormalizePolicyStatus(node.Status),
		Dates:       NewPolicyDates(node.StartDate, node.EffectiveDate, node.ExpiryDate),
		ProductName: node.ProductName,
		ProductCode: node.ProductCode,
		Data:        node.Raw,
	}
}

// InsureePolicyToPolicy converts the first policy of an insuree inquiry. The
// enrollment date stands in for both start and effective dates.
func InsureePolicyToPolicy(p *upstream.InsureePolicy) *Policy {
	pol := &Policy{
		Source: SourceInsureeInquiry,
		Status: NormalizePolicyStatus(p.Status),
		Dates:  NewPolicyDates(p.EnrollDate, p.EnrollDate, p.ExpiryDate),
		Data:   p.Raw,
	}
	if p.Product != nil {
		pol.ProductName = p.Product.Name
		pol.ProductCode = p.Product.Code
	}
	return pol
}

// CoverageSource derives a policy from the first FHIR Coverage of the patient.
type CoverageSource struct {
	client CoverageFetcher
}

func NewCoverageSource(client CoverageFetcher) *CoverageSource {
	return &CoverageSource{client: client}
}

func (s *CoverageSource) Source() Source { return SourceFHIRCoverage }

func (s *CoverageSource) Lookup(ctx context.Context, sub Subject) (*Policy, error) {
	bundle := sub.Coverage
	if bundle == nil {
		if sub.PatientID == "" {
			return nil, nil
		}
		b, err := s.client.SearchCoverage(ctx, sub.Token, sub.PatientID)
		if err != nil {
			return nil, err
		}
		bundle = b
	}
	covs, err := bundle.Coverages()
	if err != nil {
		return nil, fmt.Errorf("decode coverage: %w", err)
	}
	if len(covs) == 0 {
		return nil, nil
	}
	cov := covs[0]
	var start, end string
	if cov.Period != nil {
		start, end = cov.Period.Start, cov.Period.End
	}
	return &Policy{
		Source: SourceFHIRCoverage,
		Status: NormalizePolicyStatus(nonEmpty(cov.Status)),
		Dates:  NewPolicyDates(start, start, end),
		Data:   cov.Raw,
	}, nil
}

func nonEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
