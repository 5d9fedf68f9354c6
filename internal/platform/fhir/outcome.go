package fhir

import (
	"strings"

	json "github.com/goccy/go-json"
)

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "processing", diagnostics)
}

// ParseOperationOutcome decodes body as an OperationOutcome. It reports false
// when body is not JSON or is some other resource.
func ParseOperationOutcome(body []byte) (*OperationOutcome, bool) {
	var oo OperationOutcome
	if err := json.Unmarshal(body, &oo); err != nil {
		return nil, false
	}
	if oo.ResourceType != "OperationOutcome" {
		return nil, false
	}
	return &oo, true
}

// DetailsContain reports whether any issue's details.text contains text,
// ignoring case.
func (o *OperationOutcome) DetailsContain(text string) bool {
	needle := strings.ToLower(text)
	for _, iss := range o.Issue {
		if iss.Details == nil {
			continue
		}
		if strings.Contains(strings.ToLower(iss.Details.Text), needle) {
			return true
		}
	}
	return false
}
