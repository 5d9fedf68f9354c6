package fhir

import (
	"testing"
)

func TestErrorOutcome(t *testing.T) {
	oo := ErrorOutcome("upstream failed")

	if oo.ResourceType != "OperationOutcome" {
		t.Errorf("expected resourceType OperationOutcome, got %s", oo.ResourceType)
	}
	if len(oo.Issue) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(oo.Issue))
	}
	if oo.Issue[0].Severity != "error" || oo.Issue[0].Code != "processing" {
		t.Errorf("unexpected issue %+v", oo.Issue[0])
	}
}

func TestParseOperationOutcome(t *testing.T) {
	body := []byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"exception","details":{"text":"Field N is missing"}}]}`)

	oo, ok := ParseOperationOutcome(body)
	if !ok {
		t.Fatal("expected OperationOutcome to parse")
	}
	if !oo.DetailsContain("n is missing") {
		t.Error("expected case-insensitive match on details text")
	}
	if oo.DetailsContain("not found") {
		t.Error("did not expect match for unrelated text")
	}
}

func TestParseOperationOutcome_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>Server Error</html>"},
		{"other resource", `{"resourceType":"Patient","id":"1"}`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := ParseOperationOutcome([]byte(tt.body)); ok {
				t.Errorf("expected %q to be rejected", tt.body)
			}
		})
	}
}

func TestDetailsContain_IgnoresDiagnostics(t *testing.T) {
	oo := NewOperationOutcome("error", "exception", "N is missing")
	if oo.DetailsContain("n is missing") {
		t.Error("diagnostics must not be considered, only details.text")
	}
}
