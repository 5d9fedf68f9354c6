package coverage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amgpay/portal/internal/platform/fhir"
	"github.com/amgpay/portal/internal/upstream"
)

type fakeSource struct {
	src    Source
	policy *Policy
	err    error
	calls  int
}

func (f *fakeSource) Source() Source { return f.src }

func (f *fakeSource) Lookup(ctx context.Context, sub Subject) (*Policy, error) {
	f.calls++
	return f.policy, f.err
}

func activePolicy(src Source) *Policy {
	return &Policy{
		Source:      src,
		Status:      PolicyActive,
		Dates:       dates("2024-01-01", "2099-01-01"),
		ProductName: "AMG Test",
		ProductCode: "TST",
	}
}

func TestResolver_StopsAtFirstPolicy(t *testing.T) {
	family := &fakeSource{src: SourceFamilyPolicy}
	cov := &fakeSource{src: SourceFHIRCoverage, policy: activePolicy(SourceFHIRCoverage)}
	cached := &fakeSource{src: SourceCachedContract, policy: activePolicy(SourceCachedContract)}

	res := NewResolver(zerolog.Nop(), family, cov, cached).Resolve(context.Background(), Subject{PatientID: "p1"})

	require.NotNil(t, res.Policy)
	assert.Equal(t, SourceFHIRCoverage, res.Policy.Source)
	assert.Equal(t, 1, family.calls)
	assert.Equal(t, 1, cov.calls)
	assert.Equal(t, 0, cached.calls)
	assert.Len(t, res.Attempts, 2)
	assert.Nil(t, res.ErrorText())
}

func TestResolver_ErrorsAreRecordedAndSkipped(t *testing.T) {
	family := &fakeSource{src: SourceFamilyPolicy, err: errors.New("graphql down")}
	cov := &fakeSource{src: SourceFHIRCoverage, err: errors.New("timeout")}
	cached := &fakeSource{src: SourceCachedContract}

	res := NewResolver(zerolog.Nop(), family, cov, cached).Resolve(context.Background(), Subject{})

	assert.Nil(t, res.Policy)
	assert.Len(t, res.Attempts, 3)

	a, ok := res.Attempt(SourceFamilyPolicy)
	require.True(t, ok)
	assert.False(t, a.Found)
	assert.EqualError(t, a.Err, "graphql down")

	_, ok = res.Attempt(SourceFHIRContract)
	assert.False(t, ok)

	text := res.ErrorText()
	require.NotNil(t, text)
	assert.Equal(t, "graphql_family_policy: graphql down | fhir_coverage: timeout", *text)
}

func TestAssess_ScenarioA_NumericActiveInWindow(t *testing.T) {
	p := FamilyPolicyToPolicy(&upstream.FamilyPolicy{
		Status:      float64(1),
		StartDate:   "2024-01-01",
		ExpiryDate:  "2099-01-01",
		ProductName: "AMG Test Famille",
	})
	a := Assess(AssessInput{Policy: p, GroupResolved: true, Guard: ParseGuardConfig("TEST"), Now: now})

	assert.Equal(t, StatusActive, a.CoverageStatus)
	assert.Equal(t, "graphql_active_in_window", a.CoverageReason)
	assert.True(t, a.EnvAllowed)
	require.NotNil(t, a.PolicyStatus)
	assert.Equal(t, PolicyActive, *a.PolicyStatus)
	require.NotNil(t, a.PolicyDates.StartDate)
	assert.Equal(t, "2024-01-01", *a.PolicyDates.StartDate)
	assert.Nil(t, a.PolicyDates.EffectiveDate)
}

func TestAssess_ScenarioB_ExpiredInWindow(t *testing.T) {
	p := activePolicy(SourceFHIRCoverage)
	p.Status = PolicyExpired

	a := Assess(AssessInput{Policy: p, Guard: ParseGuardConfig("TEST"), Now: now})

	assert.Equal(t, StatusInactive, a.CoverageStatus)
	assert.Equal(t, "fallback_inactive_status", a.CoverageReason)
}

func TestAssess_ScenarioC_NoPolicy(t *testing.T) {
	a := Assess(AssessInput{GroupResolved: true, Guard: ParseGuardConfig("TEST"), Now: now})
	assert.Equal(t, StatusInactive, a.CoverageStatus)
	assert.Equal(t, ReasonNoGroupPolicy, a.CoverageReason)
	assert.Nil(t, a.PolicyStatus)
	assert.True(t, a.PolicyDates.Empty())

	a = Assess(AssessInput{Guard: ParseGuardConfig("TEST"), Now: now})
	assert.Equal(t, StatusInactive, a.CoverageStatus)
	assert.Equal(t, ReasonUnknown, a.CoverageReason)
}

func TestAssess_ScenarioD_GuardOverridesActive(t *testing.T) {
	p := activePolicy(SourceFamilyPolicy)
	p.ProductName, p.ProductCode = "Mutuelle Nationale", "MN01"

	a := Assess(AssessInput{Policy: p, PlanName: "Standard", Guard: ParseGuardConfig("TEST"), Now: now})

	assert.Equal(t, StatusInactive, a.CoverageStatus)
	assert.Equal(t, ReasonNoAMGCoverage, a.CoverageReason)
	assert.False(t, a.EnvAllowed)
	require.NotNil(t, a.PolicyStatus)
	assert.Equal(t, PolicyActive, *a.PolicyStatus)
}

func TestAssess_PlanNameSatisfiesGuard(t *testing.T) {
	p := activePolicy(SourceFHIRCoverage)
	p.ProductName, p.ProductCode = "", ""

	a := Assess(AssessInput{Policy: p, PlanName: "Plan TEST", Guard: ParseGuardConfig("TEST"), Now: now})

	assert.Equal(t, StatusActive, a.CoverageStatus)
	assert.True(t, a.EnvAllowed)
}

func TestAssess_NeverActiveWhenGuardFails(t *testing.T) {
	for _, status := range []string{PolicyActive, PolicyDraft, "", PolicyPending, PolicyExpired} {
		p := activePolicy(SourceFamilyPolicy)
		p.Status = status
		p.ProductName, p.ProductCode = "Other", "OTH"
		a := Assess(AssessInput{Policy: p, Guard: ParseGuardConfig("TEST"), Now: now})
		assert.Equal(t, StatusInactive, a.CoverageStatus, status)
		assert.Equal(t, ReasonNoAMGCoverage, a.CoverageReason, status)
	}
}

func TestAssess_UnrecognizedStatusIsInactive(t *testing.T) {
	p := activePolicy(SourceFamilyPolicy)
	p.Status = "ON HOLD"

	a := Assess(AssessInput{Policy: p, Guard: ParseGuardConfig("*"), Now: now})

	assert.True(t, a.EnvAllowed)
	assert.Equal(t, StatusInactive, a.CoverageStatus)
	assert.Equal(t, "graphql_unknown_status", a.CoverageReason)
	require.NotNil(t, a.PolicyStatus)
	assert.Equal(t, "ON HOLD", *a.PolicyStatus)
}

func TestAssess_DraftOutOfWindowIsPending(t *testing.T) {
	p := activePolicy(SourceFamilyPolicy)
	p.Status = PolicyDraft
	p.Dates = dates("2020-01-01", "2021-01-01")

	a := Assess(AssessInput{Policy: p, Guard: ParseGuardConfig("*"), Now: now})

	assert.Equal(t, StatusPending, a.CoverageStatus)
	assert.Equal(t, "graphql_pending_status", a.CoverageReason)
}

func TestAssessGroup(t *testing.T) {
	d := AssessGroup("group_", activePolicy(SourceFamilyPolicy), true, now)
	assert.Equal(t, Decision{StatusActive, "group_active_in_window"}, d)

	d = AssessGroup("group_", nil, true, now)
	assert.Equal(t, Decision{StatusInactive, ReasonNoGroupPolicy}, d)

	d = AssessGroup("group_", nil, false, now)
	assert.Equal(t, StatusUnknown, d.Status)
	assert.Empty(t, d.Reason)

	weird := activePolicy(SourceInsureeInquiry)
	weird.Status = "ON HOLD"
	d = AssessGroup("fallback_group_", weird, true, now)
	assert.Equal(t, Decision{StatusInactive, "fallback_group_unknown_status"}, d)

	stale := activePolicy(SourceFamilyPolicy)
	stale.Status = PolicyReady
	stale.Dates = dates("2020-01-01", "2021-01-01")
	d = AssessGroup("group_", stale, true, now)
	assert.Equal(t, Decision{StatusPending, "group_pending_status"}, d)
}

type fakeCoverageClient struct {
	bundle *fhir.Bundle
	err    error
	calls  int
}

func (f *fakeCoverageClient) SearchCoverage(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	f.calls++
	return f.bundle, f.err
}

func coverageBundle(t *testing.T, body string) *fhir.Bundle {
	t.Helper()
	b, err := fhir.ParseBundle([]byte(body))
	require.NoError(t, err)
	return b
}

func TestCoverageSource_UsesPrefetchedBundle(t *testing.T) {
	b := coverageBundle(t, `{"resourceType":"Bundle","entry":[{"resource":{
		"resourceType":"Coverage","id":"c1","status":"active",
		"period":{"start":"2024-01-01","end":"2099-12-31"},
		"class":[{"value":"Plan TEST"}]}}]}`)
	client := &fakeCoverageClient{}

	p, err := NewCoverageSource(client).Lookup(context.Background(), Subject{PatientID: "p1", Coverage: b})

	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 0, client.calls)
	assert.Equal(t, SourceFHIRCoverage, p.Source)
	assert.Equal(t, PolicyActive, p.Status)
	assert.Equal(t, "2099-12-31", p.Dates.End())
	assert.Equal(t, StatusActive, DecidePolicy(p, now).Status)
}

func TestCoverageSource_EmptyBundle(t *testing.T) {
	client := &fakeCoverageClient{bundle: coverageBundle(t, `{"resourceType":"Bundle","total":0}`)}

	p, err := NewCoverageSource(client).Lookup(context.Background(), Subject{PatientID: "p1"})

	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 1, client.calls)
}

func TestCoverageSource_Error(t *testing.T) {
	client := &fakeCoverageClient{err: errors.New("boom")}
	_, err := NewCoverageSource(client).Lookup(context.Background(), Subject{PatientID: "p1"})
	assert.Error(t, err)
}

type fakeFamilyClient struct {
	node *upstream.FamilyPolicy
	err  error
}

func (f *fakeFamilyClient) PoliciesByFamily(ctx context.Context, token, familyUUID string) (*upstream.FamilyPolicy, error) {
	return f.node, f.err
}

func TestFamilyPolicySource(t *testing.T) {
	src := NewFamilyPolicySource(&fakeFamilyClient{node: &upstream.FamilyPolicy{Status: "2", ProductCode: "TST"}})

	p, err := src.Lookup(context.Background(), Subject{})
	require.NoError(t, err)
	assert.Nil(t, p, "no family uuid means nothing to look up")

	p, err = src.Lookup(context.Background(), Subject{FamilyUUID: "fam-1"})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, PolicyDraft, p.Status)
	assert.Equal(t, "TST", p.ProductCode)
}

func TestInsureePolicyToPolicy(t *testing.T) {
	p := InsureePolicyToPolicy(&upstream.InsureePolicy{
		Product:    &upstream.Product{Name: "AMG TEST", Code: "T1"},
		EnrollDate: "2024-02-01",
		ExpiryDate: "2099-02-01",
		Status:     float64(1),
	})
	assert.Equal(t, SourceInsureeInquiry, p.Source)
	assert.Equal(t, "2024-02-01", *p.Dates.StartDate)
	assert.Equal(t, "2024-02-01", *p.Dates.EffectiveDate)
	assert.Equal(t, "graphql_fallback_active_in_window", DecidePolicy(p, now).Reason)
}
