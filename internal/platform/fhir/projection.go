package fhir

// Summary modes accepted by the _summary parameter.
const (
	SummaryTrue  = "true"
	SummaryFalse = "false"
	SummaryText  = "text"
	SummaryCount = "count"
	SummaryData  = "data"
)

// alwaysKeep elements survive every projection.
var alwaysKeep = map[string]bool{
	"resourceType": true,
	"id":           true,
	"meta":         true,
}

// summaryElements lists the isSummary elements per resource type. Types
// without an entry use the generic fallback set.
var summaryElements = map[string][]string{
	"Patient": {
		"identifier", "active", "name", "telecom", "gender",
		"birthDate", "deceased", "deceasedBoolean", "deceasedDateTime",
		"address", "managingOrganization", "link",
	},
	"Observation": {
		"identifier", "status", "category", "code", "subject",
		"encounter", "effective", "effectiveDateTime", "effectivePeriod",
		"issued", "value", "valueQuantity", "valueCodeableConcept",
		"valueString", "dataAbsentReason", "interpretation",
		"hasMember",
	},
	"Encounter": {
		"identifier", "status", "class", "type", "subject",
		"participant", "period", "location",
	},
	"Condition": {
		"identifier", "clinicalStatus", "verificationStatus",
		"category", "severity", "code", "subject",
		"encounter", "onset", "onsetDateTime", "abatement",
		"recordedDate",
	},
}

var genericSummaryElements = []string{
	"identifier", "status", "code", "name", "subject", "date", "type",
}

// ApplySummary filters a resource in place according to the _summary
// mode. _summary=count is handled at the bundle level and is a no-op
// here, as is _summary=false.
func ApplySummary(r Resource, mode string) {
	switch mode {
	case SummaryText:
		retain(r, []string{"text"})
	case SummaryData:
		delete(r, "text")
	case SummaryTrue:
		fields, ok := summaryElements[ResourceType(r)]
		if !ok {
			fields = genericSummaryElements
		}
		retain(r, fields)
	}
}

// ApplyElements keeps only the requested elements plus the mandatory
// resourceType/id/meta.
func ApplyElements(r Resource, elements []string) {
	retain(r, elements)
}

func retain(r Resource, fields []string) {
	keep := make(map[string]bool, len(fields))
	for _, f := range fields {
		keep[f] = true
	}
	for k := range r {
		if !alwaysKeep[k] && !keep[k] {
			delete(r, k)
		}
	}
}
