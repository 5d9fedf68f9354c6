package fhir

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Resource is the base FHIR resource representation. Raw keeps the exact
// upstream bytes so the resource can be passed through to clients untouched.
type Resource struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Meta         *Meta           `json:"meta,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

func (r *Resource) setRaw(data []byte) {
	r.Raw = append(json.RawMessage(nil), data...)
}

type rawHolder interface {
	setRaw(data []byte)
}

// Unmarshal decodes a resource and records its raw bytes.
func Unmarshal(data []byte, v rawHolder) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	v.setRaw(data)
	return nil
}

type Meta struct {
	VersionID   string   `json:"versionId,omitempty"`
	LastUpdated string   `json:"lastUpdated,omitempty"`
	Profile     []string `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference  string      `json:"reference,omitempty"`
	Type       string      `json:"type,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty"`
	Display    string      `json:"display,omitempty"`
}

// TargetID returns the id part of a literal reference ("Group/42" -> "42").
// Logical references fall back to the identifier value.
func (r *Reference) TargetID() string {
	if r == nil {
		return ""
	}
	if r.Reference != "" {
		if strings.Contains(r.Reference, "/") {
			return strings.Split(r.Reference, "/")[1]
		}
		return r.Reference
	}
	if r.Identifier != nil {
		return r.Identifier.Value
	}
	return ""
}

type Identifier struct {
	Use    string           `json:"use,omitempty"`
	Type   *CodeableConcept `json:"type,omitempty"`
	System string           `json:"system,omitempty"`
	Value  string           `json:"value,omitempty"`
	Period *Period          `json:"period,omitempty"`
}

type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Text   string   `json:"text,omitempty"`
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

// Period holds FHIR date or dateTime strings as sent by the server. Use
// ParseDate to interpret them.
type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Money struct {
	Value    *float64 `json:"value,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

type Extension struct {
	URL            string      `json:"url"`
	ValueString    string      `json:"valueString,omitempty"`
	ValueCode      string      `json:"valueCode,omitempty"`
	ValueBoolean   *bool       `json:"valueBoolean,omitempty"`
	ValueDecimal   *float64    `json:"valueDecimal,omitempty"`
	ValueReference *Reference  `json:"valueReference,omitempty"`
	Extension      []Extension `json:"extension,omitempty"`
}

// FindExtension returns the first extension with the given url, or nil.
func FindExtension(exts []Extension, url string) *Extension {
	for i := range exts {
		if exts[i].URL == url {
			return &exts[i]
		}
	}
	return nil
}
