package verification

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/amgpay/portal/internal/domain/coverage"
	"github.com/amgpay/portal/internal/platform/fhir"
	"github.com/amgpay/portal/internal/upstream"
)

// AMGClient is the part of *upstream.Client the service uses.
type AMGClient interface {
	Login(ctx context.Context) (string, error)
	SearchPatientByIdentifier(ctx context.Context, token, identifier string) (*fhir.Patient, error)
	GetPatient(ctx context.Context, token, id string) (*fhir.Patient, error)
	GetGroup(ctx context.Context, token, id string) (*fhir.Group, error)
	SearchInvoices(ctx context.Context, token, patientID string) (*fhir.Bundle, error)
	InsureeInquire(ctx context.Context, token, chfID string) (*upstream.Insuree, error)
	coverage.CoverageFetcher
	coverage.FamilyPolicyFetcher
}

// LookupError is a patient lookup failure that is not a plain "not found".
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string { return "patient lookup: " + e.Err.Error() }

func (e *LookupError) Unwrap() error { return e.Err }

// Service runs insurance verifications. Each call logs in again; no token or
// upstream data is shared between requests.
type Service struct {
	client AMGClient
	guard  coverage.GuardConfig
	// resolver walks family policy, Coverage and the contract sources.
	resolver *coverage.Resolver
	// statusResolver only knows family policy and Coverage.
	statusResolver *coverage.Resolver
	now            func() time.Time
	logger         zerolog.Logger
}

// NewService builds the service. contractSources are consulted after the
// family policy and the FHIR Coverage, in the given order.
func NewService(client AMGClient, guard coverage.GuardConfig, logger zerolog.Logger, contractSources ...coverage.PolicySource) *Service {
	family := coverage.NewFamilyPolicySource(client)
	cov := coverage.NewCoverageSource(client)
	sources := append([]coverage.PolicySource{family, cov}, contractSources...)
	return &Service{
		client:         client,
		guard:          guard,
		resolver:       coverage.NewResolver(logger, sources...),
		statusResolver: coverage.NewResolver(logger, family, cov),
		now:            time.Now,
		logger:         logger.With().Str("component", "verification").Logger(),
	}
}

// Verify resolves an insurance number to its coverage verdict. A nil error
// with Exists false means the number is unknown upstream.
func (s *Service) Verify(ctx context.Context, insuranceNumber string) (*VerifyResponse, error) {
	log := s.logger.With().Str("insurance_number", insuranceNumber).Logger()
	log.Info().Msg("verification started")

	token, err := s.client.Login(ctx)
	if err != nil {
		return nil, err
	}

	patient, searchErr := s.client.SearchPatientByIdentifier(ctx, token, insuranceNumber)
	if searchErr != nil {
		log.Warn().Err(searchErr).Msg("patient search by identifier failed, trying direct lookup")
	}
	if patient == nil {
		p, err := s.client.GetPatient(ctx, token, insuranceNumber)
		switch {
		case err != nil && upstream.InsureeFallbackEligible(err):
			log.Warn().Err(err).Msg("patient lookup failed, trying insuree inquiry")
			return s.verifyInsuree(ctx, token, insuranceNumber, err)
		case err != nil && searchErr != nil:
			return nil, &LookupError{Err: err}
		case err != nil:
			log.Warn().Err(err).Msg("patient not found")
			return &VerifyResponse{Exists: false}, nil
		case p == nil:
			log.Info().Msg("patient not found by identifier or id")
			return &VerifyResponse{Exists: false}, nil
		}
		patient = p
	}

	return s.verifyPatient(ctx, token, patient, log), nil
}

func (s *Service) verifyPatient(ctx context.Context, token string, patient *fhir.Patient, log zerolog.Logger) *VerifyResponse {
	sub := coverage.Subject{
		Token:     token,
		PatientID: patient.ID,
		GroupID:   patient.GroupReferenceID(),
	}

	var coverageBundle, invoices *fhir.Bundle
	var familyUUID string
	var g errgroup.Group
	g.Go(func() error {
		b, err := s.client.SearchCoverage(ctx, token, patient.ID)
		if err != nil {
			log.Warn().Err(err).Msg("coverage fetch failed")
			return nil
		}
		coverageBundle = b
		return nil
	})
	g.Go(func() error {
		if sub.GroupID == "" {
			return nil
		}
		grp, err := s.client.GetGroup(ctx, token, sub.GroupID)
		if err != nil {
			log.Warn().Err(err).Str("group_id", sub.GroupID).Msg("group fetch failed")
			return nil
		}
		familyUUID = grp.FamilyUUID()
		return nil
	})
	g.Go(func() error {
		b, err := s.client.SearchInvoices(ctx, token, patient.ID)
		if err != nil {
			log.Warn().Err(err).Msg("invoice fetch failed")
			return nil
		}
		invoices = b
		return nil
	})
	_ = g.Wait()

	sub.FamilyUUID = familyUUID
	sub.Coverage = coverageBundle
	res := s.resolver.Resolve(ctx, sub)
	now := s.now()

	planName := ""
	if coverageBundle != nil {
		if covs, err := coverageBundle.Coverages(); err == nil && len(covs) > 0 {
			planName = covs[0].PlanName()
		}
	}

	verdict := coverage.Assess(coverage.AssessInput{
		Policy:        res.Policy,
		PlanName:      planName,
		GroupResolved: sub.FamilyUUID != "",
		Guard:         s.guard,
		Now:           now,
	})

	var familyPolicy *coverage.Policy
	if res.Policy != nil && res.Policy.Source == coverage.SourceFamilyPolicy {
		familyPolicy = res.Policy
	}
	familyAttempt, ran := res.Attempt(coverage.SourceFamilyPolicy)
	lookedUp := ran && familyAttempt.Err == nil && sub.FamilyUUID != ""
	group := coverage.AssessGroup("group_", familyPolicy, lookedUp, now)

	resp := &VerifyResponse{
		Exists:          true,
		PatientData:     rawOrNil(patient.Raw),
		ContractData:    contractData(res.Policy),
		FullName:        patient.FullName(),
		CoverageStatus:  verdict.CoverageStatus,
		CoverageReason:  verdict.CoverageReason,
		PolicyStatus:    verdict.PolicyStatus,
		PolicyDates:     verdict.PolicyDates,
		PolicyErrorText: res.ErrorText(),
		GroupID:         strPtr(sub.GroupID),
		FamilyUUIDUsed:  strPtr(sub.FamilyUUID),
		GroupStatus:     group.Status,
		GroupReason:     strPtr(group.Reason),
		EnvAllowed:      verdict.EnvAllowed,
	}
	if coverageBundle != nil {
		resp.CoverageData = rawOrNil(coverageBundle.Raw)
	}
	if invoices != nil {
		resp.InvoicesData = rawOrNil(invoices.Raw)
		list, err := invoices.Invoices()
		if err != nil {
			log.Warn().Err(err).Msg("invoice bundle could not be decoded")
		}
		resp.TotalUnpaidAmount = UnpaidTotal(list)
	}
	if p := res.Policy; p != nil {
		resp.PolicyData = rawOrNil(p.Data)
		resp.PolicySource = strPtr(string(p.Source))
		resp.GroupProductName = strPtr(p.ProductName)
		resp.GroupProductCode = strPtr(p.ProductCode)
	}

	log.Info().
		Str("patient_id", patient.ID).
		Str("coverage_status", resp.CoverageStatus).
		Str("coverage_reason", resp.CoverageReason).
		Str("group_status", resp.GroupStatus).
		Float64("unpaid", resp.TotalUnpaidAmount).
		Msg("verification completed")
	return resp
}

// verifyInsuree is the degraded path used when openIMIS cannot serve the
// Patient resource: the GraphQL insuree inquiry stands in for it.
func (s *Service) verifyInsuree(ctx context.Context, token, insuranceNumber string, lookupErr error) (*VerifyResponse, error) {
	notFound := &VerifyResponse{Exists: false, Details: upstream.ErrorDetails(lookupErr)}

	insuree, err := s.client.InsureeInquire(ctx, token, insuranceNumber)
	if err != nil {
		s.logger.Warn().Err(err).Str("insurance_number", insuranceNumber).Msg("insuree inquiry failed")
		return notFound, nil
	}
	if insuree == nil {
		return notFound, nil
	}

	var policy *coverage.Policy
	ip, err := insuree.FirstPolicy()
	if err != nil {
		s.logger.Warn().Err(err).Str("insurance_number", insuranceNumber).Msg("insuree policy could not be decoded")
	} else if ip != nil {
		policy = coverage.InsureePolicyToPolicy(ip)
	}

	now := s.now()
	verdict := coverage.Assess(coverage.AssessInput{Policy: policy, Guard: s.guard, Now: now})
	group := coverage.AssessGroup("fallback_group_", policy, policy != nil, now)

	fullName := insuree.FullName()
	if fullName == "" {
		fullName = "Unknown"
	}
	resp := &VerifyResponse{
		Exists:         true,
		ContractData:   ContractData{Entry: []ContractEntry{}},
		FullName:       fullName,
		CoverageStatus: verdict.CoverageStatus,
		CoverageReason: verdict.CoverageReason,
		PolicyStatus:   verdict.PolicyStatus,
		PolicyDates:    verdict.PolicyDates,
		GroupStatus:    group.Status,
		GroupReason:    strPtr(group.Reason),
		EnvAllowed:     verdict.EnvAllowed,
	}
	if policy != nil {
		resp.PolicyData = rawOrNil(policy.Data)
		resp.PolicySource = strPtr(string(policy.Source))
		resp.GroupProductName = strPtr(policy.ProductName)
		resp.GroupProductCode = strPtr(policy.ProductCode)
	}

	s.logger.Info().
		Str("insurance_number", insuranceNumber).
		Str("coverage_status", resp.CoverageStatus).
		Str("coverage_reason", resp.CoverageReason).
		Msg("verification completed from insuree inquiry")
	return resp, nil
}

func contractData(p *coverage.Policy) ContractData {
	cd := ContractData{Entry: []ContractEntry{}}
	if p == nil || len(p.Data) == 0 {
		return cd
	}
	if p.Source == coverage.SourceFHIRContract || p.Source == coverage.SourceCachedContract {
		cd.Entry = append(cd.Entry, ContractEntry{Resource: p.Data})
	}
	return cd
}

// PolicyStatus reads the family policy of a patient without applying the
// product guard. Only a direct Patient/{id} lookup is attempted.
func (s *Service) PolicyStatus(ctx context.Context, insuranceNumber string) (*PolicyStatusResponse, error) {
	log := s.logger.With().Str("insurance_number", insuranceNumber).Logger()

	token, err := s.client.Login(ctx)
	if err != nil {
		return nil, err
	}

	patient, err := s.client.GetPatient(ctx, token, insuranceNumber)
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return &PolicyStatusResponse{Exists: false}, nil
		}
		return nil, &LookupError{Err: err}
	}
	if patient == nil {
		return &PolicyStatusResponse{Exists: false}, nil
	}

	ref := patient.GroupReference()
	var reference, identifier string
	if ref != nil {
		reference = ref.Reference
		if ref.Identifier != nil {
			identifier = ref.Identifier.Value
		}
	}
	groupID := patient.GroupReferenceID()
	familyUUID := groupID
	if groupID != "" {
		grp, err := s.client.GetGroup(ctx, token, groupID)
		if err != nil {
			log.Warn().Err(err).Str("group_id", groupID).Msg("group fetch failed, using reference id as family uuid")
		} else {
			familyUUID = grp.FamilyUUID()
		}
	}

	res := s.statusResolver.Resolve(ctx, coverage.Subject{
		Token:      token,
		PatientID:  patient.ID,
		GroupID:    groupID,
		FamilyUUID: familyUUID,
	})

	resp := &PolicyStatusResponse{
		Exists:                true,
		FullName:              patient.FullName(),
		PatientID:             patient.ID,
		GroupID:               strPtr(identifier),
		FamilyUUIDUsed:        strPtr(familyUUID),
		GroupReference:        strPtr(reference),
		GroupIdentifier:       strPtr(identifier),
		CoverageStatusGraphQL: coverage.StatusUnknown,
		CoverageReasonGraphQL: coverage.ReasonUnknown,
		PolicyErrorText:       res.ErrorText(),
	}
	if p := res.Policy; p != nil {
		resp.PolicyStatus = strPtr(p.Status)
		resp.PolicyDates = p.Dates
		resp.PolicyData = rawOrNil(p.Data)
		d := coverage.DecidePolicy(p, s.now())
		resp.CoverageStatusGraphQL, resp.CoverageReasonGraphQL = d.Status, d.Reason
	}
	log.Info().Str("coverage_status", resp.CoverageStatusGraphQL).Msg("policy status resolved")
	return resp, nil
}
