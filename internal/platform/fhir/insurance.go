package fhir

import (
	"regexp"
	"strings"
)

// openIMIS implementation guide extension urls.
const (
	PatientGroupReferenceURL = "https://openimis.github.io/openimis_fhir_r4_ig/StructureDefinition/patient-group-reference"
	ContractPremiumURL       = "https://openimis.github.io/openimis_fhir_r4_ig/StructureDefinition/contract-premium"
)

var (
	familyIdentifierPattern = regexp.MustCompile(`(?i)uuid|family`)
	groupSubjectPattern     = regexp.MustCompile(`Group/(.+)`)
)

type Patient struct {
	Resource
	Identifier []Identifier `json:"identifier,omitempty"`
	Name       []HumanName  `json:"name,omitempty"`
	Gender     string       `json:"gender,omitempty"`
	BirthDate  string       `json:"birthDate,omitempty"`
	Extension  []Extension  `json:"extension,omitempty"`
}

// FullName joins the first given name and the family name of the first
// HumanName. A patient without names is "Unknown".
func (p *Patient) FullName() string {
	if len(p.Name) == 0 {
		return "Unknown"
	}
	n := p.Name[0]
	given := ""
	if len(n.Given) > 0 {
		given = n.Given[0]
	}
	return strings.TrimSpace(given + " " + n.Family)
}

// GroupReference is the valueReference of the openIMIS
// patient-group-reference extension, or nil.
func (p *Patient) GroupReference() *Reference {
	ext := FindExtension(p.Extension, PatientGroupReferenceURL)
	if ext == nil {
		return nil
	}
	return ext.ValueReference
}

// GroupReferenceID extracts the family group id from the group reference.
func (p *Patient) GroupReferenceID() string {
	return p.GroupReference().TargetID()
}

type Group struct {
	Resource
	Identifier []Identifier `json:"identifier,omitempty"`
	Name       string       `json:"name,omitempty"`
	Quantity   *int         `json:"quantity,omitempty"`
}

// FamilyUUID picks the identifier used by the GraphQL API for the family:
// first by system, then by type code, finally the Group id itself.
func (g *Group) FamilyUUID() string {
	for _, id := range g.Identifier {
		if familyIdentifierPattern.MatchString(id.System) && id.Value != "" {
			return id.Value
		}
	}
	for _, id := range g.Identifier {
		if id.Type == nil {
			continue
		}
		for _, c := range id.Type.Coding {
			if familyIdentifierPattern.MatchString(c.Code) && id.Value != "" {
				return id.Value
			}
		}
	}
	return g.ID
}

type CoverageClass struct {
	Type  *CodeableConcept `json:"type,omitempty"`
	Value string           `json:"value,omitempty"`
	Name  string           `json:"name,omitempty"`
}

type Coverage struct {
	Resource
	Status      string          `json:"status,omitempty"`
	Beneficiary *Reference      `json:"beneficiary,omitempty"`
	Period      *Period         `json:"period,omitempty"`
	Class       []CoverageClass `json:"class,omitempty"`
}

// PlanName is the value of the first coverage class.
func (c *Coverage) PlanName() string {
	if len(c.Class) == 0 {
		return ""
	}
	return c.Class[0].Value
}

type ContractAsset struct {
	Period    []Period    `json:"period,omitempty"`
	Extension []Extension `json:"extension,omitempty"`
}

type ContractTerm struct {
	Asset []ContractAsset `json:"asset,omitempty"`
}

type Contract struct {
	Resource
	Status  string         `json:"status,omitempty"`
	Subject []Reference    `json:"subject,omitempty"`
	Term    []ContractTerm `json:"term,omitempty"`
}

// SubjectReference returns the first subject reference string.
func (c *Contract) SubjectReference() string {
	if len(c.Subject) == 0 {
		return ""
	}
	return c.Subject[0].Reference
}

// GroupID returns the group id when the contract subject is a Group.
func (c *Contract) GroupID() (string, bool) {
	m := groupSubjectPattern.FindStringSubmatch(c.SubjectReference())
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (c *Contract) firstAsset() *ContractAsset {
	if len(c.Term) == 0 || len(c.Term[0].Asset) == 0 {
		return nil
	}
	return &c.Term[0].Asset[0]
}

// AssetPeriod is the period of the first asset of the first term.
func (c *Contract) AssetPeriod() *Period {
	a := c.firstAsset()
	if a == nil || len(a.Period) == 0 {
		return nil
	}
	return &a.Period[0]
}

// HasPremiumReceipt reports whether the contract premium extension carries
// a non-empty receipt, which is how openIMIS marks a paid contribution.
func (c *Contract) HasPremiumReceipt() bool {
	a := c.firstAsset()
	if a == nil {
		return false
	}
	premium := FindExtension(a.Extension, ContractPremiumURL)
	if premium == nil {
		return false
	}
	receipt := FindExtension(premium.Extension, "receipt")
	return receipt != nil && receipt.ValueString != ""
}

type Invoice struct {
	Resource
	Status     string     `json:"status,omitempty"`
	Subject    *Reference `json:"subject,omitempty"`
	Date       string     `json:"date,omitempty"`
	TotalNet   *Money     `json:"totalNet,omitempty"`
	TotalGross *Money     `json:"totalGross,omitempty"`
}

// Settled reports whether the invoice no longer contributes to the amount due.
func (i *Invoice) Settled() bool {
	return i.Status == "balanced" || i.Status == "cancelled"
}

// Amount is totalNet, else totalGross, else zero.
func (i *Invoice) Amount() float64 {
	if i.TotalNet != nil && i.TotalNet.Value != nil {
		return *i.TotalNet.Value
	}
	if i.TotalGross != nil && i.TotalGross.Value != nil {
		return *i.TotalGross.Value
	}
	return 0
}

type PaymentNotice struct {
	Resource
	Status        string           `json:"status,omitempty"`
	Created       string           `json:"created,omitempty"`
	PaymentDate   string           `json:"paymentDate,omitempty"`
	Amount        *Money           `json:"amount,omitempty"`
	PaymentStatus *CodeableConcept `json:"paymentStatus,omitempty"`
}

type ReconciliationDetail struct {
	Amount *Money `json:"amount,omitempty"`
}

type PaymentReconciliation struct {
	Resource
	Status            string                 `json:"status,omitempty"`
	Created           string                 `json:"created,omitempty"`
	Period            *Period                `json:"period,omitempty"`
	PaymentDate       string                 `json:"paymentDate,omitempty"`
	PaymentAmount     *Money                 `json:"paymentAmount,omitempty"`
	PaymentIdentifier *Identifier            `json:"paymentIdentifier,omitempty"`
	Disposition       string                 `json:"disposition,omitempty"`
	Detail            []ReconciliationDetail `json:"detail,omitempty"`
}
