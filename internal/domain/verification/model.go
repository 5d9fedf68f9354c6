// Package verification answers "is this insurance number covered, and how
// much does it owe" by combining the AMG patient, family, coverage, contract
// and invoice data into one payload.
package verification

import (
	json "github.com/goccy/go-json"

	"github.com/amgpay/portal/internal/domain/coverage"
	"github.com/amgpay/portal/internal/platform/fhir"
)

// ContractData wraps the contract a policy was derived from, if any.
type ContractData struct {
	Entry []ContractEntry `json:"entry"`
}

type ContractEntry struct {
	Resource json.RawMessage `json:"resource"`
}

// VerifyResponse is the payload of POST /api/auth/verify-insurance.
type VerifyResponse struct {
	Exists            bool                 `json:"exists"`
	PatientData       json.RawMessage      `json:"patientData"`
	CoverageData      json.RawMessage      `json:"coverageData"`
	ContractData      ContractData         `json:"contractData"`
	InsurancePlanData json.RawMessage      `json:"insurancePlanData"`
	InvoicesData      json.RawMessage      `json:"invoicesData"`
	TotalUnpaidAmount float64              `json:"totalUnpaidAmount"`
	FullName          string               `json:"fullName"`
	CoverageStatus    string               `json:"coverageStatus"`
	CoverageReason    string               `json:"coverageReason"`
	PolicyStatus      *string              `json:"policyStatus"`
	PolicyDates       coverage.PolicyDates `json:"policyDates"`
	PolicyData        json.RawMessage      `json:"policyData"`
	PolicySource      *string              `json:"policySource"`
	PolicyErrorText   *string              `json:"policyErrorText"`
	GroupID           *string              `json:"groupId"`
	FamilyUUIDUsed    *string              `json:"familyUuidUsed"`
	GroupStatus       string               `json:"groupStatus"`
	GroupReason       *string              `json:"groupReason"`
	GroupProductName  *string              `json:"groupProductName"`
	GroupProductCode  *string              `json:"groupProductCode"`
	EnvAllowed        bool                 `json:"envAllowed"`

	// Details carries the upstream error text when Exists is false.
	Details string `json:"-"`
}

// NotFound is the body returned when the insurance number is unknown.
type NotFound struct {
	Exists  bool   `json:"exists"`
	Details string `json:"details,omitempty"`
}

// PolicyStatusResponse is the payload of POST /api/amg/policy-status. It
// reports the raw policy view without the product guard.
type PolicyStatusResponse struct {
	Exists                bool                 `json:"exists"`
	FullName              string               `json:"fullName,omitempty"`
	PatientID             string               `json:"patientId,omitempty"`
	GroupID               *string              `json:"groupId"`
	FamilyUUIDUsed        *string              `json:"familyUuidUsed"`
	GroupReference        *string              `json:"groupReference"`
	GroupIdentifier       *string              `json:"groupIdentifier"`
	PolicyStatus          *string              `json:"policyStatus"`
	PolicyDates           coverage.PolicyDates `json:"policyDates"`
	PolicyData            json.RawMessage      `json:"policyData"`
	CoverageStatusGraphQL string               `json:"coverageStatusGraphQL"`
	CoverageReasonGraphQL string               `json:"coverageReasonGraphQL"`
	PolicyErrorText       *string              `json:"policyErrorText"`
}

// UnpaidTotal sums totalNet, else totalGross, over invoices that are neither
// balanced nor cancelled.
func UnpaidTotal(invoices []*fhir.Invoice) float64 {
	var total float64
	for _, inv := range invoices {
		if inv.Settled() {
			continue
		}
		total += inv.Amount()
	}
	return total
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}
