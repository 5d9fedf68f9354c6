package verification

import (
	"context"
	"sync"

	"github.com/amgpay/portal/internal/platform/fhir"
	"github.com/amgpay/portal/internal/upstream"
)

type fakeAMG struct {
	mu sync.Mutex

	loginErr error

	searchPatient    string
	searchPatientErr error
	patient          string
	patientErr       error

	group    string
	groupErr error

	family    *upstream.FamilyPolicy
	familyErr error

	coverage    string
	coverageErr error

	invoices    string
	invoicesErr error

	insuree    *upstream.Insuree
	insureeErr error

	calls []string
}

func (f *fakeAMG) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeAMG) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeAMG) Login(ctx context.Context) (string, error) {
	f.record("login")
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "tok", nil
}

func patientFrom(body string) (*fhir.Patient, error) {
	if body == "" {
		return nil, nil
	}
	p := &fhir.Patient{}
	if err := fhir.Unmarshal([]byte(body), p); err != nil {
		return nil, err
	}
	return p, nil
}

func bundleFrom(body string) (*fhir.Bundle, error) {
	if body == "" {
		return fhir.ParseBundle([]byte(`{"resourceType":"Bundle","total":0}`))
	}
	return fhir.ParseBundle([]byte(body))
}

func (f *fakeAMG) SearchPatientByIdentifier(ctx context.Context, token, identifier string) (*fhir.Patient, error) {
	f.record("search_patient")
	if f.searchPatientErr != nil {
		return nil, f.searchPatientErr
	}
	return patientFrom(f.searchPatient)
}

func (f *fakeAMG) GetPatient(ctx context.Context, token, id string) (*fhir.Patient, error) {
	f.record("get_patient")
	if f.patientErr != nil {
		return nil, f.patientErr
	}
	return patientFrom(f.patient)
}

func (f *fakeAMG) GetGroup(ctx context.Context, token, id string) (*fhir.Group, error) {
	f.record("get_group")
	if f.groupErr != nil {
		return nil, f.groupErr
	}
	g := &fhir.Group{}
	if err := fhir.Unmarshal([]byte(f.group), g); err != nil {
		return nil, err
	}
	return g, nil
}

func (f *fakeAMG) SearchCoverage(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	f.record("coverage")
	if f.coverageErr != nil {
		return nil, f.coverageErr
	}
	return bundleFrom(f.coverage)
}

func (f *fakeAMG) SearchInvoices(ctx context.Context, token, patientID string) (*fhir.Bundle, error) {
	f.record("invoices")
	if f.invoicesErr != nil {
		return nil, f.invoicesErr
	}
	return bundleFrom(f.invoices)
}

func (f *fakeAMG) PoliciesByFamily(ctx context.Context, token, familyUUID string) (*upstream.FamilyPolicy, error) {
	f.record("family_policy")
	return f.family, f.familyErr
}

func (f *fakeAMG) InsureeInquire(ctx context.Context, token, chfID string) (*upstream.Insuree, error) {
	f.record("insuree")
	return f.insuree, f.insureeErr
}
