package compartment

import (
	"testing"

	"github.com/fu-foo/fhir-sazare/internal/auth"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
)

func patientScoped(patientID string) *auth.Principal {
	return &auth.Principal{
		UserID:    "test-user",
		Method:    auth.MethodJWT,
		Scopes:    []string{"patient/Observation.read"},
		PatientID: patientID,
	}
}

func observationFor(patientID string) fhir.Resource {
	return fhir.Resource{
		"resourceType": "Observation",
		"subject":      map[string]interface{}{"reference": "Patient/" + patientID},
	}
}

func TestMembership(t *testing.T) {
	for _, rt := range []string{"Patient", "Observation", "Encounter", "Task", "AllergyIntolerance"} {
		if !InCompartment(rt) {
			t.Errorf("%s should be in the patient compartment", rt)
		}
	}
	for _, rt := range []string{"Practitioner", "Organization", "Bundle"} {
		if InCompartment(rt) {
			t.Errorf("%s should be outside the patient compartment", rt)
		}
	}
}

func TestPatientBelongsToSelf(t *testing.T) {
	p := fhir.Resource{"resourceType": "Patient", "id": "p123"}
	if !BelongsToPatient("Patient", p, "p123") {
		t.Error("patient does not belong to self")
	}
	if BelongsToPatient("Patient", p, "other") {
		t.Error("patient belongs to another patient")
	}
}

func TestTaskMatchesForOrOwner(t *testing.T) {
	byFor := fhir.Resource{
		"resourceType": "Task",
		"for":          map[string]interface{}{"reference": "Patient/p789"},
		"owner":        map[string]interface{}{"reference": "Practitioner/dr1"},
	}
	if !BelongsToPatient("Task", byFor, "p789") {
		t.Error("task with matching 'for' not in compartment")
	}

	byOwner := fhir.Resource{
		"resourceType": "Task",
		"for":          map[string]interface{}{"reference": "Organization/org1"},
		"owner":        map[string]interface{}{"reference": "Patient/p789"},
	}
	if !BelongsToPatient("Task", byOwner, "p789") {
		t.Error("task with matching 'owner' not in compartment")
	}
}

func TestAllergyUsesPatientField(t *testing.T) {
	allergy := fhir.Resource{
		"resourceType": "AllergyIntolerance",
		"patient":      map[string]interface{}{"reference": "Patient/p456"},
	}
	if !BelongsToPatient("AllergyIntolerance", allergy, "p456") {
		t.Error("allergy not matched via patient field")
	}
}

func TestCheckAccess(t *testing.T) {
	other := observationFor("other")

	if CheckAccess(nil, "Observation", other) != nil {
		t.Error("nil principal denied")
	}

	system := &auth.Principal{Scopes: []string{"system/*.*"}}
	if CheckAccess(system, "Observation", other) != nil {
		t.Error("system scope denied")
	}

	apiKey := &auth.Principal{Method: auth.MethodAPIKey}
	if CheckAccess(apiKey, "Observation", other) != nil {
		t.Error("api key principal denied")
	}

	own := patientScoped("p123")
	if CheckAccess(own, "Observation", observationFor("p123")) != nil {
		t.Error("own data denied")
	}
	if CheckAccess(own, "Observation", other) == nil {
		t.Error("other patient's data allowed")
	}

	// Non-compartment types stay readable for reference resolution.
	org := fhir.Resource{"resourceType": "Organization", "id": "org1"}
	if CheckAccess(own, "Organization", org) != nil {
		t.Error("non-compartment resource denied")
	}

	noContext := &auth.Principal{Scopes: []string{"patient/Observation.read"}}
	if CheckAccess(noContext, "Observation", observationFor("p123")) == nil {
		t.Error("patient scope without patient context allowed")
	}
}

func TestFilter(t *testing.T) {
	resources := []fhir.Resource{
		observationFor("p123"),
		observationFor("other"),
		observationFor("p123"),
	}

	filtered := Filter(patientScoped("p123"), "Observation", resources)
	if len(filtered) != 2 {
		t.Errorf("filtered %d resources; want 2", len(filtered))
	}

	if got := Filter(nil, "Observation", resources); len(got) != 3 {
		t.Errorf("nil principal filtered to %d; want all", len(got))
	}

	noContext := &auth.Principal{Scopes: []string{"patient/*.read"}}
	if got := Filter(noContext, "Observation", resources); len(got) != 0 {
		t.Errorf("missing patient context returned %d resources; want none", len(got))
	}
}
