package fhir

import (
	"testing"
)

func TestPatient_FullName(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"given and family", `{"resourceType":"Patient","id":"1","name":[{"family":"Said","given":["Amina","Zaina"]}]}`, "Amina Said"},
		{"family only", `{"resourceType":"Patient","id":"1","name":[{"family":"Said"}]}`, "Said"},
		{"no names", `{"resourceType":"Patient","id":"1"}`, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Patient{}
			if err := Unmarshal([]byte(tt.body), p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := p.FullName(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPatient_GroupReferenceID(t *testing.T) {
	tests := []struct {
		name string
		ext  string
		want string
	}{
		{"literal reference", `{"url":"` + PatientGroupReferenceURL + `","valueReference":{"reference":"Group/abc-123"}}`, "abc-123"},
		{"bare reference", `{"url":"` + PatientGroupReferenceURL + `","valueReference":{"reference":"abc-123"}}`, "abc-123"},
		{"identifier only", `{"url":"` + PatientGroupReferenceURL + `","valueReference":{"identifier":{"value":"F-77"}}}`, "F-77"},
		{"other extension", `{"url":"http://example.org/other","valueReference":{"reference":"Group/x"}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Patient{}
			body := `{"resourceType":"Patient","id":"1","extension":[` + tt.ext + `]}`
			if err := Unmarshal([]byte(body), p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := p.GroupReferenceID(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestPatient_KeepsRaw(t *testing.T) {
	body := `{"resourceType":"Patient","id":"42","active":true}`
	p := &Patient{}
	if err := Unmarshal([]byte(body), p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(p.Raw) != body {
		t.Errorf("expected raw bytes to be preserved, got %s", p.Raw)
	}
}

func TestGroup_FamilyUUID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"by system",
			`{"resourceType":"Group","id":"g1","identifier":[{"system":"http://x/code","value":"C1"},{"system":"http://openimis/Family-UUID","value":"fam-uuid"}]}`,
			"fam-uuid",
		},
		{
			"by type code",
			`{"resourceType":"Group","id":"g1","identifier":[{"type":{"coding":[{"code":"UUID"}]},"value":"typed-uuid"}]}`,
			"typed-uuid",
		},
		{
			"falls back to id",
			`{"resourceType":"Group","id":"g1","identifier":[{"system":"http://x/code","value":"C1"}]}`,
			"g1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Group{}
			if err := Unmarshal([]byte(tt.body), g); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := g.FamilyUUID(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestContract_Accessors(t *testing.T) {
	body := `{
		"resourceType":"Contract","id":"c1",
		"subject":[{"reference":"Group/g-9"}],
		"term":[{"asset":[{
			"period":[{"start":"2024-01-01","end":"2024-12-31"}],
			"extension":[{"url":"` + ContractPremiumURL + `","extension":[{"url":"receipt","valueString":"R-001"}]}]
		}]}]
	}`
	c := &Contract{}
	if err := Unmarshal([]byte(body), c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	gid, ok := c.GroupID()
	if !ok || gid != "g-9" {
		t.Errorf("expected group g-9, got %q (%v)", gid, ok)
	}
	p := c.AssetPeriod()
	if p == nil || p.Start != "2024-01-01" || p.End != "2024-12-31" {
		t.Errorf("unexpected period %+v", p)
	}
	if !c.HasPremiumReceipt() {
		t.Error("expected premium receipt")
	}
}

func TestContract_WithoutReceipt(t *testing.T) {
	body := `{"resourceType":"Contract","id":"c2","subject":[{"reference":"Patient/p1"}],
		"term":[{"asset":[{"extension":[{"url":"` + ContractPremiumURL + `","extension":[{"url":"receipt","valueString":""}]}]}]}]}`
	c := &Contract{}
	if err := Unmarshal([]byte(body), c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := c.GroupID(); ok {
		t.Error("patient subject must not be treated as a group")
	}
	if c.HasPremiumReceipt() {
		t.Error("empty receipt must not count as payment")
	}
	if c.AssetPeriod() != nil {
		t.Error("expected no period")
	}
}

func TestInvoice_Amount(t *testing.T) {
	net, gross := 1500.0, 2000.0
	tests := []struct {
		name string
		inv  Invoice
		want float64
	}{
		{"net wins", Invoice{TotalNet: &Money{Value: &net}, TotalGross: &Money{Value: &gross}}, 1500},
		{"gross fallback", Invoice{TotalGross: &Money{Value: &gross}}, 2000},
		{"money without value", Invoice{TotalNet: &Money{Currency: "KMF"}, TotalGross: &Money{Value: &gross}}, 2000},
		{"nothing", Invoice{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inv.Amount(); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestInvoice_Settled(t *testing.T) {
	for status, want := range map[string]bool{"balanced": true, "cancelled": true, "issued": false, "draft": false} {
		inv := Invoice{Status: status}
		if inv.Settled() != want {
			t.Errorf("status %s: expected settled=%v", status, want)
		}
	}
}
