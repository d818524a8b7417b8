package rest

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/compartment"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/platform/middleware"
	"github.com/fu-foo/fhir-sazare/internal/search"
	"github.com/fu-foo/fhir-sazare/internal/storage"
)

// searchRaw runs a raw query string without paging and returns the
// matching IDs.
func (s *Server) searchRaw(c echo.Context, resourceType, rawQuery string) ([]string, error) {
	q, err := search.Parse(s.registry, resourceType, rawQuery)
	if err != nil {
		return nil, err
	}
	return s.executor.Search(c.Request().Context(), resourceType, q)
}

// handleConditionalUpdate serves PUT /Type?params: zero matches create,
// one match updates, several fail with 412.
func (s *Server) handleConditionalUpdate(c echo.Context) error {
	resourceType := c.Param("type")
	rawQuery := c.Request().URL.RawQuery
	if rawQuery == "" {
		return badRequest(c, "Conditional update requires search parameters")
	}

	ids, err := s.searchRaw(c, resourceType, rawQuery)
	if err != nil {
		return badRequest(c, "Invalid search query: "+err.Error())
	}

	resource, err := decodeResource(c)
	if err != nil {
		return badRequest(c, "Invalid JSON body: "+err.Error())
	}
	if rt := fhir.ResourceType(resource); rt != resourceType {
		return badRequest(c, fmt.Sprintf("Resource type %q does not match URL type %q", rt, resourceType))
	}
	if outcome := s.validator.Validate(resource); outcome != nil {
		return outcomeError(c, http.StatusBadRequest, outcome)
	}

	principal := middleware.Principal(c)

	switch len(ids) {
	case 0:
		id := fhir.ResourceID(resource)
		if id == "" {
			id = uuid.New().String()
		}
		fhir.Stamp(resource, id, "1")
		if outcome := compartment.CheckAccess(principal, resourceType, resource); outcome != nil {
			return outcomeError(c, http.StatusForbidden, outcome)
		}
		if err := s.persist(c, resourceType, resource); err != nil {
			return storageError(c, err)
		}
		c.Response().Header().Set("Location", fmt.Sprintf("/%s/%s/_history/1", resourceType, id))
		c.Response().Header().Set("ETag", fhir.ETag("1"))
		return c.JSON(http.StatusCreated, resource)
	case 1:
		id := ids[0]
		existing, err := s.loadResource(c, resourceType, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return storageError(c, err)
		}
		version := "1"
		if err == nil {
			if outcome := compartment.CheckAccess(principal, resourceType, existing); outcome != nil {
				return outcomeError(c, http.StatusForbidden, outcome)
			}
			version = fhir.NextVersion(existing)
		}
		fhir.Stamp(resource, id, version)
		if outcome := compartment.CheckAccess(principal, resourceType, resource); outcome != nil {
			return outcomeError(c, http.StatusForbidden, outcome)
		}
		if err := s.persist(c, resourceType, resource); err != nil {
			return storageError(c, err)
		}
		c.Response().Header().Set("ETag", fhir.ETag(version))
		return c.JSON(http.StatusOK, resource)
	default:
		return outcomeError(c, http.StatusPreconditionFailed,
			fhir.ErrorOutcome(fhir.IssueMultipleMatches,
				fmt.Sprintf("Conditional update matched %d resources", len(ids))))
	}
}

// handleConditionalDelete serves DELETE /Type?params: zero matches is a
// no-op 204, one match deletes, several fail with 412.
func (s *Server) handleConditionalDelete(c echo.Context) error {
	resourceType := c.Param("type")
	rawQuery := c.Request().URL.RawQuery
	if rawQuery == "" {
		return badRequest(c, "Conditional delete requires search parameters")
	}

	ids, err := s.searchRaw(c, resourceType, rawQuery)
	if err != nil {
		return badRequest(c, "Invalid search query: "+err.Error())
	}

	switch len(ids) {
	case 0:
		return c.NoContent(http.StatusNoContent)
	case 1:
		ctx := c.Request().Context()
		existing, err := s.loadResource(c, resourceType, ids[0])
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return storageError(c, err)
		}
		if err == nil {
			if outcome := compartment.CheckAccess(middleware.Principal(c), resourceType, existing); outcome != nil {
				return outcomeError(c, http.StatusForbidden, outcome)
			}
		}
		if _, err := s.store.Delete(ctx, resourceType, ids[0]); err != nil {
			return storageError(c, err)
		}
		s.unindex(ctx, resourceType, ids[0])
		return c.NoContent(http.StatusNoContent)
	default:
		return outcomeError(c, http.StatusPreconditionFailed,
			fhir.ErrorOutcome(fhir.IssueMultipleMatches,
				fmt.Sprintf("Conditional delete matched %d resources", len(ids))))
	}
}
