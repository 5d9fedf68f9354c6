package upstream

import (
	"errors"
	"strings"

	json "github.com/goccy/go-json"
)

const policiesByFamilyQuery = `query GetPolicies($familyUuid: String!) {
  policiesByFamily(activeOrLastExpiredOnly: true, familyUuid: $familyUuid) {
    edges { node {
      policyUuid status startDate effectiveDate expiryDate productCode productName policyValue
    } }
  }
}`

const insureeInquireQuery = `query GetInsureeInquire($chfId: String) {
  insurees(chfId: $chfId, ignoreLocation: true) {
    edges { node {
      chfId lastName otherNames dob gender { gender }
      insureePolicies { edges { node {
        policy {
          product { name code ceiling deductible maxMembers maxInstallments }
          enrollDate expiryDate status value validityTo
        }
      } } }
    } }
  }
}`

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

func (r *graphqlResponse) err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return errors.New("graphql: " + strings.Join(msgs, "; "))
}

// FamilyPolicy is the first node of policiesByFamily. Status arrives either
// as an integer code or as text, so it is kept undecoded until normalized.
type FamilyPolicy struct {
	PolicyUUID    string          `json:"policyUuid"`
	Status        interface{}     `json:"status"`
	StartDate     string          `json:"startDate"`
	EffectiveDate string          `json:"effectiveDate"`
	ExpiryDate    string          `json:"expiryDate"`
	ProductCode   string          `json:"productCode"`
	ProductName   string          `json:"productName"`
	PolicyValue   interface{}     `json:"policyValue"`
	Raw           json.RawMessage `json:"-"`
}

type policiesByFamilyData struct {
	PoliciesByFamily struct {
		Edges []struct {
			Node json.RawMessage `json:"node"`
		} `json:"edges"`
	} `json:"policiesByFamily"`
}

type Product struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// InsureePolicy is the policy attached to an insuree in the inquiry query.
type InsureePolicy struct {
	Product    *Product        `json:"product"`
	EnrollDate string          `json:"enrollDate"`
	ExpiryDate string          `json:"expiryDate"`
	Status     interface{}     `json:"status"`
	Value      interface{}     `json:"value"`
	ValidityTo string          `json:"validityTo"`
	Raw        json.RawMessage `json:"-"`
}

// Insuree is the first node of the insurees inquiry.
type Insuree struct {
	ChfID      string `json:"chfId"`
	LastName   string `json:"lastName"`
	OtherNames string `json:"otherNames"`
	Dob        string `json:"dob"`
	Gender     *struct {
		Gender string `json:"gender"`
	} `json:"gender"`
	InsureePolicies struct {
		Edges []struct {
			Node struct {
				Policy json.RawMessage `json:"policy"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"insureePolicies"`
}

// FullName is "otherNames lastName", trimmed.
func (i *Insuree) FullName() string {
	return strings.TrimSpace(i.OtherNames + " " + i.LastName)
}

// FirstPolicy decodes the policy of the first insureePolicies edge.
func (i *Insuree) FirstPolicy() (*InsureePolicy, error) {
	if len(i.InsureePolicies.Edges) == 0 {
		return nil, nil
	}
	raw := i.InsureePolicies.Edges[0].Node.Policy
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	p := &InsureePolicy{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	p.Raw = append(json.RawMessage(nil), raw...)
	return p, nil
}

type insureesData struct {
	Insurees struct {
		Edges []struct {
			Node *Insuree `json:"node"`
		} `json:"edges"`
	} `json:"insurees"`
}
