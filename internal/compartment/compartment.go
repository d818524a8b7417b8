// Package compartment enforces the FHIR R4 Patient compartment:
// patient-scoped tokens may only reach resources linked to their
// patient.
package compartment

import (
	"github.com/fu-foo/fhir-sazare/internal/auth"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
)

// membership maps each compartment resource type to the reference
// fields that link it to a Patient. Patient itself matches by id.
// Practitioner, Organization and Bundle stay outside the compartment.
var membership = map[string][]string{
	"Patient":            {},
	"Observation":        {"subject"},
	"Encounter":          {"subject"},
	"Condition":          {"subject"},
	"MedicationRequest":  {"subject"},
	"Procedure":          {"subject"},
	"AllergyIntolerance": {"patient"},
	"DiagnosticReport":   {"subject"},
	"Immunization":       {"patient"},
	"Task":               {"for", "owner"},
}

// InCompartment reports whether the resource type can belong to the
// Patient compartment.
func InCompartment(resourceType string) bool {
	_, ok := membership[resourceType]
	return ok
}

// ReferenceFields returns the fields linking a resource type to a
// Patient, or nil for non-compartment types.
func ReferenceFields(resourceType string) []string {
	return membership[resourceType]
}

// BelongsToPatient reports whether a resource is in the given
// patient's compartment. Patient resources match on id; other types
// match when any compartment field references Patient/{patientID}.
func BelongsToPatient(resourceType string, resource fhir.Resource, patientID string) bool {
	fields, ok := membership[resourceType]
	if !ok {
		return false
	}
	if resourceType == "Patient" {
		return fhir.ResourceID(resource) == patientID
	}
	want := fhir.FormatReference("Patient", patientID)
	for _, field := range fields {
		if fhir.ReferenceField(resource, field) == want {
			return true
		}
	}
	return false
}

// CheckAccess decides whether the principal may access the resource.
// A nil principal (auth disabled) and non-patient-scoped tokens are
// always allowed; patient-scoped tokens without a patient context are
// always denied. Non-compartment resources stay readable so references
// can be resolved.
func CheckAccess(principal *auth.Principal, resourceType string, resource fhir.Resource) *fhir.OperationOutcome {
	if principal == nil || !principal.IsPatientScoped() {
		return nil
	}
	if principal.PatientID == "" {
		return fhir.ErrorOutcome(fhir.IssueForbidden, "Patient-scoped token without patient context")
	}
	if !InCompartment(resourceType) {
		return nil
	}
	if BelongsToPatient(resourceType, resource, principal.PatientID) {
		return nil
	}
	return fhir.ErrorOutcome(fhir.IssueForbidden, "Access denied: resource is not in patient compartment")
}

// Filter keeps only the resources in the principal's compartment.
// Without a patient-scoped principal all resources pass through; a
// patient-scoped principal with no patient context sees nothing.
func Filter(principal *auth.Principal, resourceType string, resources []fhir.Resource) []fhir.Resource {
	if principal == nil || !principal.IsPatientScoped() {
		return resources
	}
	if principal.PatientID == "" {
		return nil
	}
	if !InCompartment(resourceType) {
		return resources
	}
	filtered := make([]fhir.Resource, 0, len(resources))
	for _, r := range resources {
		if BelongsToPatient(resourceType, r, principal.PatientID) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
