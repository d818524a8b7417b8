package rest

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
)

func TestValidateAlwaysReturns200(t *testing.T) {
	ts := newTestServer(t)

	// Valid resource: information outcome.
	rec := ts.request(t, http.MethodPost, "/Patient/$validate", testPatient("", "Doe"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	outcome := decodeBody(t, rec)
	issues := outcome["issue"].([]interface{})
	if issues[0].(map[string]interface{})["severity"] != "information" {
		t.Errorf("outcome = %v", outcome)
	}

	// Invalid resource: error outcome, still 200.
	rec = ts.request(t, http.MethodPost, "/Observation/$validate",
		fhir.Resource{"resourceType": "Observation"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; $validate never fails the request", rec.Code)
	}
	outcome = decodeBody(t, rec)
	issues = outcome["issue"].([]interface{})
	if issues[0].(map[string]interface{})["severity"] != "error" {
		t.Errorf("outcome = %v", outcome)
	}
}

func TestValidateUnwrapsParameters(t *testing.T) {
	ts := newTestServer(t)

	wrapped := fhir.Resource{
		"resourceType": "Parameters",
		"parameter": []interface{}{
			map[string]interface{}{
				"name":     "resource",
				"resource": testPatient("", "Doe"),
			},
		},
	}
	rec := ts.request(t, http.MethodPost, "/Patient/$validate", wrapped)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	outcome := decodeBody(t, rec)
	issues := outcome["issue"].([]interface{})
	if issues[0].(map[string]interface{})["severity"] != "information" {
		t.Errorf("outcome = %v", outcome)
	}
}

func TestValidateTypeMismatch(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodPost, "/Observation/$validate", testPatient("", "Doe"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	outcome := decodeBody(t, rec)
	issues := outcome["issue"].([]interface{})
	if issues[0].(map[string]interface{})["severity"] != "error" {
		t.Errorf("type mismatch not reported: %v", outcome)
	}
}

func TestExportNDJSON(t *testing.T) {
	ts := newTestServer(t)
	ts.request(t, http.MethodPut, "/Patient/p1", testPatient("p1", "Doe"))
	ts.request(t, http.MethodPut, "/Observation/o1", testObservation("o1", "final", "p1"))

	rec := ts.request(t, http.MethodGet, "/$export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get(echoHeaderContentType); !strings.Contains(ct, "application/ndjson") {
		t.Errorf("content type = %q", ct)
	}
	lines := nonEmptyLines(rec.Body.String())
	if len(lines) != 2 {
		t.Errorf("exported %d lines; want 2", len(lines))
	}

	// _type filters the output.
	rec = ts.request(t, http.MethodGet, "/$export?_type=Patient", nil)
	lines = nonEmptyLines(rec.Body.String())
	if len(lines) != 1 || !strings.Contains(lines[0], `"Patient"`) {
		t.Errorf("filtered export = %v", lines)
	}
}

func TestExportIncludesUnregisteredTypes(t *testing.T) {
	ts := newTestServer(t)
	ts.request(t, http.MethodPut, "/Patient/p1", testPatient("p1", "Doe"))

	// A type the search registry knows nothing about still exports.
	data := []byte(`{"resourceType":"Basic","id":"b1","meta":{"versionId":"1"}}`)
	if err := ts.server.store.PutVersion(context.Background(), "Basic", "b1", "1", data); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec := ts.request(t, http.MethodGet, "/$export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	lines := nonEmptyLines(rec.Body.String())
	if len(lines) != 2 {
		t.Fatalf("exported %d lines; want 2", len(lines))
	}
	found := false
	for _, line := range lines {
		if strings.Contains(line, `"Basic"`) {
			found = true
		}
	}
	if !found {
		t.Error("Basic resource missing from export")
	}
}

const echoHeaderContentType = "Content-Type"

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func TestImportNDJSON(t *testing.T) {
	ts := newTestServer(t)

	body := `{"resourceType":"Patient","id":"p1","gender":"female"}
{"resourceType":"Observation","id":"o1","status":"final","code":{"text":"hr"},"subject":{"reference":"Patient/p1"}}
not json at all
{"gender":"male"}`

	rec := ts.request(t, http.MethodPost, "/$import", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	outcome := decodeBody(t, rec)
	issues := outcome["issue"].([]interface{})
	// Partial success downgrades to a warning.
	if issues[0].(map[string]interface{})["severity"] != "warning" {
		t.Errorf("outcome = %v", outcome)
	}

	// Imported resources are readable and indexed.
	if rec = ts.request(t, http.MethodGet, "/Patient/p1", nil); rec.Code != http.StatusOK {
		t.Errorf("imported patient not readable: %d", rec.Code)
	}
	search := decodeBundle(t, ts.request(t, http.MethodGet, "/Observation?status=final", nil))
	if *search.Total != 1 {
		t.Errorf("imported observation not indexed")
	}
}

func TestImportAllErrorsFails(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodPost, "/$import", "not json\nstill not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d; want 400 when nothing imported", rec.Code)
	}
}

func TestImportBumpsExistingVersion(t *testing.T) {
	ts := newTestServer(t)
	ts.request(t, http.MethodPut, "/Patient/p1", testPatient("p1", "Doe"))

	rec := ts.request(t, http.MethodPost, "/$import",
		`{"resourceType":"Patient","id":"p1","gender":"male"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	got := decodeBody(t, ts.request(t, http.MethodGet, "/Patient/p1", nil))
	if fhir.VersionID(got) != "2" {
		t.Errorf("version = %q; want 2 after re-import", fhir.VersionID(got))
	}
}
