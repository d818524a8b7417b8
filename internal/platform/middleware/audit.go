package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fu-foo/fhir-sazare/internal/registry"
)

// AuditEntry captures who touched which resource, when, from where,
// and how the request ended.
type AuditEntry struct {
	UserID       string
	ResourceType string
	ResourceID   string
	Action       string
	IPAddress    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries. The middleware logs regardless
// of whether a recorder is configured.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit emits a structured audit event for every resource-level
// request. Infrastructure paths (health, metadata, metrics) are not
// audited.
func Audit(logger zerolog.Logger, reg *registry.Registry, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			resourceType, resourceID := splitResourcePath(reg, req.URL.Path)
			if resourceType == "" {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:    time.Now().UTC(),
				ResourceType: resourceType,
				ResourceID:   resourceID,
				Action:       methodToAction(req.Method),
				IPAddress:    c.RealIP(),
				Path:         req.URL.Path,
				Method:       req.Method,
				StatusCode:   c.Response().Status,
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			entry.UserID = "anonymous"
			if p := Principal(c); p != nil {
				entry.UserID = p.UserID
			}

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.StatusCode >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("resource_access")

			return err
		}
	}
}

// splitResourcePath extracts /Type and /Type/id paths for known
// resource types. Everything else is not auditable.
func splitResourcePath(reg *registry.Registry, path string) (resourceType, resourceID string) {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 || !reg.HasResourceType(segments[0]) {
		return "", ""
	}
	resourceType = segments[0]
	if len(segments) > 1 && !strings.HasPrefix(segments[1], "$") && !strings.HasPrefix(segments[1], "_") {
		resourceID = segments[1]
	}
	return resourceType, resourceID
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}
