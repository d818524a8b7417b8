package validation

// Terminology holds the value sets codes are validated against. Unknown
// value sets accept any code, so validation stays open-world.
type Terminology struct {
	valueSets map[string][]string
}

// NewTerminology builds a registry preloaded with the base R4 value
// sets the server binds to.
func NewTerminology() *Terminology {
	return &Terminology{
		valueSets: map[string][]string{
			"http://hl7.org/fhir/ValueSet/administrative-gender": {
				"male", "female", "other", "unknown",
			},
			"http://hl7.org/fhir/ValueSet/observation-status": {
				"registered", "preliminary", "final", "amended",
				"corrected", "cancelled", "entered-in-error", "unknown",
			},
			"http://hl7.org/fhir/ValueSet/task-status": {
				"draft", "requested", "received", "accepted", "rejected",
				"ready", "cancelled", "in-progress", "on-hold", "failed",
				"completed", "entered-in-error",
			},
		},
	}
}

// AddValueSet registers or replaces a value set.
func (t *Terminology) AddValueSet(url string, codes []string) {
	t.valueSets[url] = codes
}

// ValidateCode reports whether code belongs to the value set. Codes in
// unregistered value sets are accepted.
func (t *Terminology) ValidateCode(valueSetURL, code string) bool {
	codes, ok := t.valueSets[valueSetURL]
	if !ok {
		return true
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// ValidateCodeableConcept accepts a concept when any coding carries a
// valid code, or when a coding-less concept at least has text.
func (t *Terminology) ValidateCodeableConcept(valueSetURL string, concept map[string]interface{}) bool {
	codings, ok := concept["coding"].([]interface{})
	if !ok {
		_, hasText := concept["text"]
		return hasText
	}
	for _, c := range codings {
		coding, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if code, ok := coding["code"].(string); ok && t.ValidateCode(valueSetURL, code) {
			return true
		}
	}
	return false
}
