package fhir

import (
	"fmt"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string          `json:"resourceType"`
	ID           string          `json:"id,omitempty"`
	Type         string          `json:"type"`
	Total        *int            `json:"total,omitempty"`
	Link         []BundleLink    `json:"link,omitempty"`
	Entry        []BundleEntry   `json:"entry,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

func (b *Bundle) setRaw(data []byte) {
	b.Raw = append(json.RawMessage(nil), data...)
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// ParseBundle decodes a Bundle and keeps its raw bytes.
func ParseBundle(data []byte) (*Bundle, error) {
	b := &Bundle{}
	if err := Unmarshal(data, b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if b.ResourceType != "" && b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("decode bundle: unexpected resourceType %q", b.ResourceType)
	}
	return b, nil
}

// TotalCount returns Bundle.total, or zero when absent.
func (b *Bundle) TotalCount() int {
	if b == nil || b.Total == nil {
		return 0
	}
	return *b.Total
}

// NextURL returns the "next" paging link. openIMIS percent-encodes the whole
// link, so it is unescaped before use.
func (b *Bundle) NextURL() string {
	if b == nil {
		return ""
	}
	for _, l := range b.Link {
		if l.Relation != "next" || l.URL == "" {
			continue
		}
		next, err := url.PathUnescape(l.URL)
		if err != nil {
			next = l.URL
		}
		if strings.HasPrefix(next, "https%3A%2F%2F") {
			next = "https://" + strings.TrimPrefix(next, "https%3A%2F%2F")
		}
		return next
	}
	return ""
}

// eachResource decodes every entry whose resourceType matches into a fresh
// value produced by newFn. Entries without a resource are skipped.
func (b *Bundle) eachResource(resourceType string, newFn func() rawHolder, keep func(rawHolder)) error {
	if b == nil {
		return nil
	}
	for i, e := range b.Entry {
		if len(e.Resource) == 0 {
			continue
		}
		var head struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(e.Resource, &head); err != nil {
			return fmt.Errorf("decode entry %d: %w", i, err)
		}
		if head.ResourceType != resourceType {
			continue
		}
		v := newFn()
		if err := Unmarshal(e.Resource, v); err != nil {
			return fmt.Errorf("decode %s entry %d: %w", resourceType, i, err)
		}
		keep(v)
	}
	return nil
}

func (b *Bundle) Patients() ([]*Patient, error) {
	var out []*Patient
	err := b.eachResource("Patient",
		func() rawHolder { return &Patient{} },
		func(v rawHolder) { out = append(out, v.(*Patient)) })
	return out, err
}

func (b *Bundle) Coverages() ([]*Coverage, error) {
	var out []*Coverage
	err := b.eachResource("Coverage",
		func() rawHolder { return &Coverage{} },
		func(v rawHolder) { out = append(out, v.(*Coverage)) })
	return out, err
}

func (b *Bundle) Contracts() ([]*Contract, error) {
	var out []*Contract
	err := b.eachResource("Contract",
		func() rawHolder { return &Contract{} },
		func(v rawHolder) { out = append(out, v.(*Contract)) })
	return out, err
}

func (b *Bundle) Invoices() ([]*Invoice, error) {
	var out []*Invoice
	err := b.eachResource("Invoice",
		func() rawHolder { return &Invoice{} },
		func(v rawHolder) { out = append(out, v.(*Invoice)) })
	return out, err
}

func (b *Bundle) PaymentNotices() ([]*PaymentNotice, error) {
	var out []*PaymentNotice
	err := b.eachResource("PaymentNotice",
		func() rawHolder { return &PaymentNotice{} },
		func(v rawHolder) { out = append(out, v.(*PaymentNotice)) })
	return out, err
}

func (b *Bundle) PaymentReconciliations() ([]*PaymentReconciliation, error) {
	var out []*PaymentReconciliation
	err := b.eachResource("PaymentReconciliation",
		func() rawHolder { return &PaymentReconciliation{} },
		func(v rawHolder) { out = append(out, v.(*PaymentReconciliation)) })
	return out, err
}
