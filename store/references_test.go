package store

import (
	"reflect"
	"testing"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		value string
		want  Reference
		ok    bool
	}{
		{"Patient/p1", Reference{ResourceType: "Patient", ID: "p1"}, true},
		{"Patient/p1/_history/2", Reference{ResourceType: "Patient", ID: "p1", VersionID: "2"}, true},
		{"https://fhir.example.com/r4/Patient/p-1.a", Reference{BaseURL: "https://fhir.example.com/r4/", ResourceType: "Patient", ID: "p-1.a"}, true},
		{"http://x/Practitioner/dr/_history/9", Reference{BaseURL: "http://x/", ResourceType: "Practitioner", ID: "dr", VersionID: "9"}, true},
		{"#contained", Reference{}, false},
		{"Patient", Reference{}, false},
		{"Patient/has space", Reference{}, false},
		{"urn:uuid:1234", Reference{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, ok := ParseReference(tt.value)
			if ok != tt.ok {
				t.Fatalf("expected ok %v, got %v", tt.ok, ok)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestReferenceFields(t *testing.T) {
	r := Resource{
		"subject": map[string]any{"reference": "Patient/p1"},
		"performer": []any{
			map[string]any{"reference": "Practitioner/a"},
			map[string]any{"display": "no reference"},
			map[string]any{"reference": "Practitioner/c"},
		},
		"reference": "top-level keys have no dot",
		"code":      map[string]any{"reference": 42},
	}

	got := referenceFields(r)
	want := []ReferenceField{
		{Path: "performer.0.reference", Value: "Practitioner/a"},
		{Path: "performer.2.reference", Value: "Practitioner/c"},
		{Path: "subject.reference", Value: "Patient/p1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestReferenceFields_Empty(t *testing.T) {
	if got := referenceFields(Resource{}); len(got) != 0 {
		t.Errorf("expected no fields, got %v", got)
	}
	if got := referenceFields(nil); len(got) != 0 {
		t.Errorf("expected no fields, got %v", got)
	}
}

func TestSetPath(t *testing.T) {
	r := Resource{
		"subject":   map[string]any{"reference": "Patient/p1"},
		"performer": []any{map[string]any{"reference": "Practitioner/a"}},
	}

	if !setPath(r, "subject.reference", "Patient/p1/_history/1") {
		t.Error("expected subject.reference to be set")
	}
	if !setPath(r, "performer.0.reference", "Practitioner/a/_history/4") {
		t.Error("expected performer.0.reference to be set")
	}
	if got := r["subject"].(map[string]any)["reference"]; got != "Patient/p1/_history/1" {
		t.Errorf("unexpected subject.reference %v", got)
	}
	if got := r["performer"].([]any)[0].(map[string]any)["reference"]; got != "Practitioner/a/_history/4" {
		t.Errorf("unexpected performer.0.reference %v", got)
	}

	for _, path := range []string{"missing.reference", "performer.5.reference", "performer.x.reference", "subject.reference.deeper"} {
		if setPath(r, path, "x") {
			t.Errorf("expected %q not to resolve", path)
		}
	}
}

func TestVersionedReference(t *testing.T) {
	if got := versionedReference("Patient/p1", "3"); got != "Patient/p1/_history/3" {
		t.Errorf("expected 'Patient/p1/_history/3', got %q", got)
	}
}
