package rest

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/compartment"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/platform/middleware"
)

// handleHistory serves GET /Type/id/_history as a history bundle with
// one entry per stored version, newest first.
func (s *Server) handleHistory(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	ctx := c.Request().Context()

	versions, err := s.store.ListVersions(ctx, resourceType, id)
	if err != nil {
		return storageError(c, err)
	}
	if len(versions) == 0 {
		return notFound(c, resourceType, id)
	}

	bundle := fhir.NewBundle(fhir.BundleHistory).SetTotal(len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		data, err := s.store.GetVersion(ctx, resourceType, id, versions[i])
		if err != nil {
			return storageError(c, err)
		}
		var resource fhir.Resource
		if err := json.Unmarshal(data, &resource); err != nil {
			return storageError(c, err)
		}
		if i == len(versions)-1 {
			if outcome := compartment.CheckAccess(middleware.Principal(c), resourceType, resource); outcome != nil {
				return outcomeError(c, http.StatusForbidden, outcome)
			}
		}
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{
			FullURL:  fhir.FormatReference(resourceType, id),
			Resource: resource,
			Request: &fhir.BundleRequest{
				Method: http.MethodGet,
				URL:    fhir.FormatReference(resourceType, id),
			},
		})
	}

	return c.JSON(http.StatusOK, bundle)
}
