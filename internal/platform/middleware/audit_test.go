package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fu-foo/fhir-sazare/internal/registry"
)

func runAudited(t *testing.T, target string, recorder AuditRecorder) {
	t.Helper()
	e := echo.New()
	handler := Audit(zerolog.Nop(), registry.New(), recorder)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-abc")
	if err := handler(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func TestAuditRecordsResourceAccess(t *testing.T) {
	var got *AuditEntry
	runAudited(t, "/Patient/p1", AuditRecorderFunc(func(entry AuditEntry) error {
		got = &entry
		return nil
	}))

	if got == nil {
		t.Fatal("no audit entry recorded")
	}
	if got.ResourceType != "Patient" || got.ResourceID != "p1" {
		t.Errorf("entry = %+v", got)
	}
	if got.Action != "read" || got.RequestID != "req-abc" {
		t.Errorf("entry = %+v", got)
	}
	if got.UserID != "anonymous" {
		t.Errorf("user = %q; want anonymous without auth", got.UserID)
	}
}

func TestAuditSkipsInfrastructurePaths(t *testing.T) {
	called := false
	for _, path := range []string{"/health", "/metadata", "/metrics"} {
		runAudited(t, path, AuditRecorderFunc(func(AuditEntry) error {
			called = true
			return nil
		}))
	}
	if called {
		t.Error("infrastructure path was audited")
	}
}

func TestAuditIgnoresOperationSegments(t *testing.T) {
	var got *AuditEntry
	runAudited(t, "/Patient/$everything", AuditRecorderFunc(func(entry AuditEntry) error {
		got = &entry
		return nil
	}))
	if got == nil {
		t.Fatal("no audit entry recorded")
	}
	if got.ResourceID != "" {
		t.Errorf("resource id = %q; want empty for $ operations", got.ResourceID)
	}
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	e := echo.New()
	handler := RequestID()(func(c echo.Context) error {
		if rid, ok := c.Get("request_id").(string); !ok || rid == "" {
			t.Error("request_id missing from context")
		}
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/Patient", nil)
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	// Caller-supplied IDs are preserved.
	req = httptest.NewRequest(http.MethodGet, "/Patient", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Header().Get("X-Request-ID") != "caller-id" {
		t.Errorf("X-Request-ID = %q; want caller-id", rec.Header().Get("X-Request-ID"))
	}
}
