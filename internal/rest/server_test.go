package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fu-foo/fhir-sazare/internal/auth"
	"github.com/fu-foo/fhir-sazare/internal/index"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/platform/middleware"
	"github.com/fu-foo/fhir-sazare/internal/storage"
)

type testServer struct {
	echo   *echo.Echo
	server *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.OpenSQLite(filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ix, err := index.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		ix.Close()
	})

	srv := NewServer(store, ix, zerolog.Nop(), Options{Version: "test"})
	e := echo.New()
	srv.RegisterRoutes(e)
	return &testServer{echo: e, server: srv}
}

// scopeToPatient attaches a patient-scoped principal to every
// subsequent request, the way the auth middleware does for SMART
// tokens with a patient launch context.
func (ts *testServer) scopeToPatient(patientID string) {
	p := &auth.Principal{
		UserID:    "smart-user",
		Method:    auth.MethodJWT,
		Scopes:    []string{"patient/*.read", "patient/*.write"},
		PatientID: patientID,
	}
	ts.echo.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			middleware.SetPrincipal(c, p)
			return next(c)
		}
	})
}

// request performs an HTTP request against the test server. A non-nil
// body is JSON-encoded unless it is already a string or []byte.
func (ts *testServer) request(t *testing.T, method, target string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	contentType := echo.MIMEApplicationJSON
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
		contentType = "application/ndjson"
	case []byte:
		reader = strings.NewReader(string(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(data))
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) fhir.Resource {
	t.Helper()
	var out fhir.Resource
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func decodeBundle(t *testing.T, rec *httptest.ResponseRecorder) *fhir.Bundle {
	t.Helper()
	var out fhir.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode bundle %q: %v", rec.Body.String(), err)
	}
	return &out
}

func testPatient(id, family string) fhir.Resource {
	p := fhir.Resource{
		"resourceType": "Patient",
		"gender":       "female",
		"name": []interface{}{
			map[string]interface{}{"family": family},
		},
	}
	if id != "" {
		p["id"] = id
	}
	return p
}

func testObservation(id, status, patientID string) fhir.Resource {
	o := fhir.Resource{
		"resourceType": "Observation",
		"status":       status,
		"code":         map[string]interface{}{"text": "heart rate"},
		"subject":      map[string]interface{}{"reference": "Patient/" + patientID},
	}
	if id != "" {
		o["id"] = id
	}
	return o
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["fhirVersion"] != "4.0.1" {
		t.Errorf("body = %v", body)
	}
}

func TestMetadataAdvertisesResources(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodGet, "/metadata", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var statement fhir.CapabilityStatement
	if err := json.Unmarshal(rec.Body.Bytes(), &statement); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if statement.FHIRVersion != "4.0.1" || len(statement.Rest) != 1 {
		t.Fatalf("statement = %+v", statement)
	}

	types := make(map[string]fhir.CSResource)
	for _, r := range statement.Rest[0].Resource {
		types[r.Type] = r
	}
	patient, ok := types["Patient"]
	if !ok {
		t.Fatal("Patient missing from capability statement")
	}
	if patient.Versioning != "versioned" || !patient.ReadHistory {
		t.Errorf("patient capability = %+v", patient)
	}

	hasTransaction := false
	for _, i := range statement.Rest[0].Interaction {
		if i.Code == "transaction" {
			hasTransaction = true
		}
	}
	if !hasTransaction {
		t.Error("transaction interaction not advertised")
	}
}

func TestSmartConfiguration(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodGet, "/.well-known/smart-configuration", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if _, ok := body["capabilities"]; !ok {
		t.Errorf("body = %v", body)
	}
}
