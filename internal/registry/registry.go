// Package registry holds the declarative search parameter definitions
// that drive both index projection and query type inference.
package registry

// ParamType classifies a search parameter.
type ParamType string

const (
	Token     ParamType = "token"
	String    ParamType = "string"
	Date      ParamType = "date"
	Reference ParamType = "reference"
	Number    ParamType = "number"
)

// ExtractionMode says how a parameter's values are pulled out of a
// resource during index projection.
type ExtractionMode int

const (
	// Simple reads a scalar field: resource["status"].
	Simple ExtractionMode = iota
	// ArrayField reads a field of each array element: name[*].family.
	ArrayField
	// NestedArrayScalar reads a nested string array: name[*].given[*].
	NestedArrayScalar
	// CodeableConcept reads coding[*].code plus system; accepts a single
	// object or an array of concepts.
	CodeableConcept
	// Identifier reads value plus system; single object or array.
	Identifier
	// ReferenceField reads the .reference string of a reference element.
	ReferenceField
	// PeriodStart reads the start of a period object at the path.
	PeriodStart
)

// ParamDef defines a single search parameter for one resource type.
type ParamDef struct {
	Name       string
	Type       ParamType
	Path       []string
	Extraction ExtractionMode
	Aliases    []string
}

// definitions maps resource type to its search parameter definitions.
var definitions = map[string][]ParamDef{
	"Patient": {
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
		{Name: "family", Type: String, Path: []string{"name", "family"}, Extraction: ArrayField},
		{Name: "given", Type: String, Path: []string{"name", "given"}, Extraction: NestedArrayScalar},
		{Name: "birthdate", Type: Date, Path: []string{"birthDate"}, Extraction: Simple},
		{Name: "gender", Type: Token, Path: []string{"gender"}, Extraction: Simple},
	},
	"Observation": {
		{Name: "code", Type: Token, Path: []string{"code"}, Extraction: CodeableConcept},
		{Name: "category", Type: Token, Path: []string{"category"}, Extraction: CodeableConcept},
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "subject", Type: Reference, Path: []string{"subject"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
		{Name: "date", Type: Date, Path: []string{"effectiveDateTime"}, Extraction: Simple},
	},
	"Encounter": {
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "subject", Type: Reference, Path: []string{"subject"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
		{Name: "date", Type: Date, Path: []string{"period", "start"}, Extraction: PeriodStart},
	},
	"Condition": {
		{Name: "code", Type: Token, Path: []string{"code"}, Extraction: CodeableConcept},
		{Name: "subject", Type: Reference, Path: []string{"subject"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
	},
	"MedicationRequest": {
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "subject", Type: Reference, Path: []string{"subject"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
		{Name: "intent", Type: Token, Path: []string{"intent"}, Extraction: Simple},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
	},
	"Procedure": {
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "subject", Type: Reference, Path: []string{"subject"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
		{Name: "code", Type: Token, Path: []string{"code"}, Extraction: CodeableConcept},
		{Name: "date", Type: Date, Path: []string{"performedDateTime"}, Extraction: Simple},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
	},
	"AllergyIntolerance": {
		{Name: "patient", Type: Reference, Path: []string{"patient"}, Extraction: ReferenceField},
		{Name: "clinical-status", Type: Token, Path: []string{"clinicalStatus"}, Extraction: CodeableConcept, Aliases: []string{"status"}},
		{Name: "code", Type: Token, Path: []string{"code"}, Extraction: CodeableConcept},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
	},
	"DiagnosticReport": {
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "subject", Type: Reference, Path: []string{"subject"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
		{Name: "code", Type: Token, Path: []string{"code"}, Extraction: CodeableConcept},
		{Name: "date", Type: Date, Path: []string{"effectiveDateTime"}, Extraction: Simple},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
	},
	"Immunization": {
		{Name: "patient", Type: Reference, Path: []string{"patient"}, Extraction: ReferenceField},
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "date", Type: Date, Path: []string{"occurrenceDateTime"}, Extraction: Simple},
		{Name: "vaccine-code", Type: Token, Path: []string{"vaccineCode"}, Extraction: CodeableConcept},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
	},
	"Task": {
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		// Task's patient reference lives in the "for" element.
		{Name: "subject", Type: Reference, Path: []string{"for"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
		{Name: "owner", Type: Reference, Path: []string{"owner"}, Extraction: ReferenceField},
		{Name: "code", Type: Token, Path: []string{"code"}, Extraction: CodeableConcept},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
	},
	"Practitioner": {
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
		{Name: "family", Type: String, Path: []string{"name", "family"}, Extraction: ArrayField},
		{Name: "given", Type: String, Path: []string{"name", "given"}, Extraction: NestedArrayScalar},
	},
	"Organization": {
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
		{Name: "name", Type: String, Path: []string{"name"}, Extraction: Simple},
		{Name: "type", Type: Token, Path: []string{"type"}, Extraction: CodeableConcept},
	},
	"Bundle": {
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
		{Name: "type", Type: Token, Path: []string{"type"}, Extraction: Simple},
	},
	"ServiceRequest": {
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
		{Name: "subject", Type: Reference, Path: []string{"subject"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
		{Name: "code", Type: Token, Path: []string{"code"}, Extraction: CodeableConcept},
		{Name: "intent", Type: Token, Path: []string{"intent"}, Extraction: Simple},
		{Name: "priority", Type: Token, Path: []string{"priority"}, Extraction: Simple},
		{Name: "encounter", Type: Reference, Path: []string{"encounter"}, Extraction: ReferenceField},
		{Name: "requester", Type: Reference, Path: []string{"requester"}, Extraction: ReferenceField},
		{Name: "requisition", Type: Token, Path: []string{"requisition"}, Extraction: Identifier},
	},
	"Appointment": {
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
		{Name: "date", Type: Date, Path: []string{"start"}, Extraction: Simple},
	},
	"Specimen": {
		{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
		{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
		{Name: "subject", Type: Reference, Path: []string{"subject"}, Extraction: ReferenceField, Aliases: []string{"patient"}},
		{Name: "type", Type: Token, Path: []string{"type"}, Extraction: CodeableConcept},
	},
}

// commonDefinitions is the fallback for unregistered resource types.
var commonDefinitions = []ParamDef{
	{Name: "status", Type: Token, Path: []string{"status"}, Extraction: Simple},
	{Name: "identifier", Type: Token, Path: []string{"identifier"}, Extraction: Identifier},
}

// Registry resolves search parameter definitions per resource type.
type Registry struct {
	defs map[string][]ParamDef
}

// New returns a registry with the built-in definitions.
func New() *Registry {
	return &Registry{defs: definitions}
}

// Definitions returns the parameter definitions for a resource type,
// falling back to the common set for unregistered types.
func (r *Registry) Definitions(resourceType string) []ParamDef {
	if d, ok := r.defs[resourceType]; ok {
		return d
	}
	return commonDefinitions
}

// HasResourceType reports whether a type has explicit definitions.
func (r *Registry) HasResourceType(resourceType string) bool {
	_, ok := r.defs[resourceType]
	return ok
}

// LookupParamType resolves the type of a parameter by name or alias.
// The second return is false when the parameter is unknown.
func (r *Registry) LookupParamType(resourceType, paramName string) (ParamType, bool) {
	for _, def := range r.Definitions(resourceType) {
		if def.Name == paramName {
			return def.Type, true
		}
		for _, alias := range def.Aliases {
			if alias == paramName {
				return def.Type, true
			}
		}
	}
	return "", false
}

// ResourceTypes returns the registered resource type names.
func (r *Registry) ResourceTypes() []string {
	types := make([]string, 0, len(r.defs))
	for rt := range r.defs {
		types = append(types, rt)
	}
	return types
}
