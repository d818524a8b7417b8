package registry

import "testing"

func TestRegistryCoversAllResourceTypes(t *testing.T) {
	r := New()
	types := []string{
		"Patient", "Observation", "Encounter", "Condition",
		"MedicationRequest", "Procedure", "AllergyIntolerance",
		"DiagnosticReport", "Immunization", "Task",
		"Practitioner", "Organization", "Bundle",
		"ServiceRequest", "Appointment", "Specimen",
	}
	for _, rt := range types {
		if !r.HasResourceType(rt) {
			t.Errorf("missing definitions for %s", rt)
		}
		if len(r.Definitions(rt)) == 0 {
			t.Errorf("empty definitions for %s", rt)
		}
	}
}

func TestFallbackForUnknownType(t *testing.T) {
	r := New()
	defs := r.Definitions("UnknownResource")
	if len(defs) != 2 {
		t.Fatalf("expected 2 fallback definitions, got %d", len(defs))
	}
	if defs[0].Name != "status" || defs[1].Name != "identifier" {
		t.Errorf("unexpected fallback params: %s, %s", defs[0].Name, defs[1].Name)
	}
}

func TestLookupParamType(t *testing.T) {
	r := New()

	pt, ok := r.LookupParamType("Patient", "family")
	if !ok || pt != String {
		t.Errorf("Patient.family = %v, %v; want string", pt, ok)
	}

	pt, ok = r.LookupParamType("Observation", "code")
	if !ok || pt != Token {
		t.Errorf("Observation.code = %v, %v; want token", pt, ok)
	}

	// Alias lookup resolves to the canonical definition's type.
	pt, ok = r.LookupParamType("Observation", "patient")
	if !ok || pt != Reference {
		t.Errorf("Observation.patient alias = %v, %v; want reference", pt, ok)
	}

	if _, ok := r.LookupParamType("Patient", "nonexistent"); ok {
		t.Error("expected lookup miss for Patient.nonexistent")
	}
}

func TestTaskSubjectUsesForPath(t *testing.T) {
	r := New()
	for _, def := range r.Definitions("Task") {
		if def.Name == "subject" {
			if len(def.Path) != 1 || def.Path[0] != "for" {
				t.Errorf("Task.subject path = %v; want [for]", def.Path)
			}
			if len(def.Aliases) != 1 || def.Aliases[0] != "patient" {
				t.Errorf("Task.subject aliases = %v; want [patient]", def.Aliases)
			}
			return
		}
	}
	t.Fatal("Task.subject definition missing")
}

func TestAllergyClinicalStatusAlias(t *testing.T) {
	r := New()
	pt, ok := r.LookupParamType("AllergyIntolerance", "status")
	if !ok || pt != Token {
		t.Errorf("AllergyIntolerance.status alias = %v, %v; want token", pt, ok)
	}
}

func TestServiceRequestRequisitionIsIdentifier(t *testing.T) {
	r := New()
	for _, def := range r.Definitions("ServiceRequest") {
		if def.Name == "requisition" {
			if def.Extraction != Identifier || def.Type != Token {
				t.Errorf("requisition extraction=%v type=%v; want Identifier/token", def.Extraction, def.Type)
			}
			return
		}
	}
	t.Fatal("ServiceRequest.requisition definition missing")
}
