package search

import (
	"testing"

	"github.com/fu-foo/fhir-sazare/internal/registry"
)

func parse(t *testing.T, resourceType, raw string) *Query {
	t.Helper()
	q, err := Parse(registry.New(), resourceType, raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return q
}

func TestParseEmptyQuery(t *testing.T) {
	q := parse(t, "Patient", "")
	if len(q.Params) != 0 || len(q.Chains) != 0 {
		t.Errorf("empty query produced params: %+v", q)
	}
	if q.Count != -1 || q.Offset != 0 {
		t.Errorf("count/offset defaults wrong: %d/%d", q.Count, q.Offset)
	}
}

func TestParseSimpleParam(t *testing.T) {
	q := parse(t, "Patient", "family=Smith")
	if len(q.Params) != 1 {
		t.Fatalf("params = %+v", q.Params)
	}
	p := q.Params[0]
	if p.Name != "family" || p.Value != "Smith" || p.Type != registry.String {
		t.Errorf("param = %+v", p)
	}
}

func TestParseModifier(t *testing.T) {
	q := parse(t, "Patient", "name:exact=John")
	if len(q.Params) != 1 || len(q.Chains) != 0 {
		t.Fatalf("query = %+v", q)
	}
	if q.Params[0].Modifier != "exact" || q.Params[0].Value != "John" {
		t.Errorf("param = %+v", q.Params[0])
	}
}

func TestParseChain(t *testing.T) {
	q := parse(t, "Observation", "subject:Patient.name=Doe")
	if len(q.Params) != 0 || len(q.Chains) != 1 {
		t.Fatalf("query = %+v", q)
	}
	c := q.Chains[0]
	if c.ReferenceParam != "subject" || c.TargetType != "Patient" ||
		c.TargetParam != "name" || c.Value != "Doe" {
		t.Errorf("chain = %+v", c)
	}
	if c.TargetParamType != registry.String {
		t.Errorf("chain target type = %v; want string", c.TargetParamType)
	}
}

func TestParseChainAlongsideRegularParams(t *testing.T) {
	q := parse(t, "Observation", "status=final&subject:Patient.gender=male")
	if len(q.Params) != 1 || q.Params[0].Name != "status" {
		t.Errorf("params = %+v", q.Params)
	}
	if len(q.Chains) != 1 || q.Chains[0].TargetParam != "gender" {
		t.Errorf("chains = %+v", q.Chains)
	}
	if q.Chains[0].TargetParamType != registry.Token {
		t.Errorf("gender chain type = %v; want token", q.Chains[0].TargetParamType)
	}
}

func TestParseDatePrefixes(t *testing.T) {
	q := parse(t, "Patient", "birthdate=ge1990-01-01")
	if len(q.Params) != 1 {
		t.Fatalf("params = %+v", q.Params)
	}
	p := q.Params[0]
	if p.Prefix != "ge" || p.Value != "1990-01-01" || p.Type != registry.Date {
		t.Errorf("param = %+v", p)
	}

	// Bare date value means eq.
	q = parse(t, "Patient", "birthdate=1990-01-01")
	if q.Params[0].Prefix != "eq" || q.Params[0].Value != "1990-01-01" {
		t.Errorf("param = %+v", q.Params[0])
	}
}

func TestParseRegistryDrivenTypeInference(t *testing.T) {
	// Observation "date" is registered as a date parameter, so the
	// prefix must be stripped even though "effectiveDateTime" is the
	// underlying element.
	q := parse(t, "Observation", "date=lt2024-01-01")
	if q.Params[0].Type != registry.Date || q.Params[0].Prefix != "lt" {
		t.Errorf("param = %+v", q.Params[0])
	}

	// Alias inference: patient on Observation is a reference.
	q = parse(t, "Observation", "patient=Patient/p1")
	if q.Params[0].Type != registry.Reference {
		t.Errorf("param = %+v", q.Params[0])
	}
}

func TestParseControlParams(t *testing.T) {
	q := parse(t, "Patient", "_count=10&_offset=20&_summary=count&_elements=name, gender,")
	if q.Count != 10 || q.Offset != 20 {
		t.Errorf("count/offset = %d/%d", q.Count, q.Offset)
	}
	if q.Summary != "count" {
		t.Errorf("summary = %q", q.Summary)
	}
	if len(q.Elements) != 2 || q.Elements[0] != "name" || q.Elements[1] != "gender" {
		t.Errorf("elements = %v", q.Elements)
	}
}

func TestParseIncludeRevinclude(t *testing.T) {
	q := parse(t, "Observation", "_include=Observation:subject&_revinclude=DiagnosticReport:subject")
	if len(q.Includes) != 1 || q.Includes[0] != "Observation:subject" {
		t.Errorf("includes = %v", q.Includes)
	}
	if len(q.Revincludes) != 1 || q.Revincludes[0] != "DiagnosticReport:subject" {
		t.Errorf("revincludes = %v", q.Revincludes)
	}
}

func TestParseInvalidSummaryIgnored(t *testing.T) {
	q := parse(t, "Patient", "_summary=bogus")
	if q.Summary != "" {
		t.Errorf("summary = %q; want empty", q.Summary)
	}
}

func TestSplitTokenValue(t *testing.T) {
	system, code := splitTokenValue("http://loinc.org|8867-4")
	if system != "http://loinc.org" || code != "8867-4" {
		t.Errorf("split = %q, %q", system, code)
	}
	system, code = splitTokenValue("8867-4")
	if system != "" || code != "8867-4" {
		t.Errorf("split = %q, %q", system, code)
	}
}
