// Package validation checks resources in three phases: structure and
// required fields, extension shape, then terminology bindings. A phase
// that finds errors stops the pipeline and its outcome carries every
// issue that phase collected.
package validation

import (
	"fmt"
	"strings"

	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
)

// requiredFields lists base R4 min=1 elements per resource type.
// Patient has none. Types absent from the map validate structurally
// with no field requirements.
var requiredFields = map[string][]string{
	"Observation":        {"status", "code"},
	"Encounter":          {"status", "class"},
	"Condition":          {"subject"},
	"Task":               {"status", "intent"},
	"MedicationRequest":  {"status", "intent", "subject"},
	"Procedure":          {"status", "subject"},
	"AllergyIntolerance": {"patient"},
	"DiagnosticReport":   {"status", "code"},
	"Immunization":       {"status", "vaccineCode", "patient"},
	"Bundle":             {"type"},
	"Subscription":       {"status", "criteria", "channel"},
	"Composition":        {"status", "type", "date", "author", "title"},
	"CarePlan":           {"status", "intent", "subject"},
	"Claim":              {"status", "type", "use", "patient", "provider", "priority", "insurance"},
	"Coverage":           {"status", "beneficiary", "payor"},
	"DocumentReference":  {"status", "content"},
	"ServiceRequest":     {"status", "intent", "subject"},
}

// Validator runs the three validation phases.
type Validator struct {
	terminology *Terminology
}

func New() *Validator {
	return &Validator{terminology: NewTerminology()}
}

// Validate returns nil for a valid resource, or the failing phase's
// outcome. Warnings never fail a phase.
func (v *Validator) Validate(resource fhir.Resource) *fhir.OperationOutcome {
	if outcome := v.validateStructure(resource); outcome != nil {
		return outcome
	}
	if outcome := v.validateExtensions(resource); outcome != nil {
		return outcome
	}
	return v.validateTerminology(resource)
}

// validateStructure checks resourceType, required fields, and data
// quality. Identifier issues are warnings and do not fail validation.
func (v *Validator) validateStructure(resource fhir.Resource) *fhir.OperationOutcome {
	resourceType := fhir.ResourceType(resource)
	if resourceType == "" {
		outcome := fhir.ErrorOutcome(fhir.IssueRequired, "Missing required field: resourceType")
		outcome.Issue[0].Expression = []string{"resourceType"}
		return outcome
	}

	outcome := &fhir.OperationOutcome{ResourceType: "OperationOutcome"}
	for _, field := range requiredFields[resourceType] {
		if _, ok := resource[field]; !ok {
			outcome.AddIssueAt(fhir.SeverityError, fhir.IssueRequired,
				"Missing required field: "+field,
				resourceType+"."+field)
		}
	}

	checkIdentifierQuality(resource, resourceType, outcome)

	if outcome.HasErrors() {
		return outcome
	}
	return nil
}

// checkIdentifierQuality warns about identifiers that carry neither a
// value nor a system.
func checkIdentifierQuality(resource fhir.Resource, resourceType string, outcome *fhir.OperationOutcome) {
	identifiers, ok := resource["identifier"].([]interface{})
	if !ok {
		return
	}
	for i, raw := range identifiers {
		identifier, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		_, hasValue := identifier["value"]
		_, hasSystem := identifier["system"]
		if !hasValue && !hasSystem {
			outcome.AddIssueAt(fhir.SeverityWarning, fhir.IssueValue,
				fmt.Sprintf("Identifier at index %d should have either 'value' or 'system'", i),
				fmt.Sprintf("%s.identifier[%d]", resourceType, i))
		}
	}
}

// validateExtensions requires each extension to carry a url and either
// a value[x] or nested extensions.
func (v *Validator) validateExtensions(resource fhir.Resource) *fhir.OperationOutcome {
	extensions, ok := resource["extension"].([]interface{})
	if !ok {
		return nil
	}
	for i, raw := range extensions {
		extension, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if _, hasURL := extension["url"]; !hasURL {
			outcome := fhir.ErrorOutcome(fhir.IssueInvalid,
				fmt.Sprintf("Extension at index %d is missing required 'url' field", i))
			outcome.Issue[0].Expression = []string{fmt.Sprintf("extension[%d].url", i)}
			return outcome
		}
		hasValue := false
		for key := range extension {
			if strings.HasPrefix(key, "value") || key == "extension" {
				hasValue = true
				break
			}
		}
		if !hasValue {
			outcome := fhir.ErrorOutcome(fhir.IssueInvalid,
				fmt.Sprintf("Extension at index %d must have either a value or nested extensions", i))
			outcome.Issue[0].Expression = []string{fmt.Sprintf("extension[%d]", i)}
			return outcome
		}
	}
	return nil
}

// validateTerminology checks the coded bindings the server enforces.
func (v *Validator) validateTerminology(resource fhir.Resource) *fhir.OperationOutcome {
	switch fhir.ResourceType(resource) {
	case "Patient":
		if gender, ok := resource["gender"].(string); ok {
			if !v.terminology.ValidateCode("http://hl7.org/fhir/ValueSet/administrative-gender", gender) {
				outcome := fhir.ErrorOutcome(fhir.IssueCodeInvalid,
					fmt.Sprintf("Invalid gender code: '%s'. Must be one of: male, female, other, unknown", gender))
				outcome.Issue[0].Expression = []string{"Patient.gender"}
				return outcome
			}
		}
	case "Observation":
		if status, ok := resource["status"].(string); ok {
			if !v.terminology.ValidateCode("http://hl7.org/fhir/ValueSet/observation-status", status) {
				outcome := fhir.ErrorOutcome(fhir.IssueCodeInvalid,
					fmt.Sprintf("Invalid observation status: '%s'", status))
				outcome.Issue[0].Expression = []string{"Observation.status"}
				return outcome
			}
		}
	case "Task":
		if status, ok := resource["status"].(string); ok {
			if !v.terminology.ValidateCode("http://hl7.org/fhir/ValueSet/task-status", status) {
				outcome := fhir.ErrorOutcome(fhir.IssueCodeInvalid,
					fmt.Sprintf("Invalid task status: '%s'", status))
				outcome.Issue[0].Expression = []string{"Task.status"}
				return outcome
			}
		}
	}
	return nil
}
