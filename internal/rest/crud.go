package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/compartment"
	"github.com/fu-foo/fhir-sazare/internal/index"
	"github.com/fu-foo/fhir-sazare/internal/jsonpatch"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/platform/middleware"
	"github.com/fu-foo/fhir-sazare/internal/storage"
)

// decodeResource reads the request body as an open JSON resource.
func decodeResource(c echo.Context) (fhir.Resource, error) {
	var r fhir.Resource
	if err := json.NewDecoder(c.Request().Body).Decode(&r); err != nil {
		return nil, err
	}
	return r, nil
}

// persist writes the current version and refreshes the search index.
// The write succeeds once the store commits; an index refresh failure
// is logged but never surfaced to the caller.
func (s *Server) persist(c echo.Context, resourceType string, r fhir.Resource) error {
	ctx := c.Request().Context()
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	id, versionID := fhir.ResourceID(r), fhir.VersionID(r)
	if err := s.store.PutVersion(ctx, resourceType, id, versionID, data); err != nil {
		return err
	}
	s.reindex(ctx, resourceType, id, r)
	return nil
}

// reindex refreshes the search index, logging failures.
func (s *Server) reindex(ctx context.Context, resourceType, id string, r fhir.Resource) {
	if err := s.index.Reindex(ctx, resourceType, id, index.Project(s.registry, resourceType, r)); err != nil {
		s.logger.Error().Err(err).Str("resource", resourceType+"/"+id).Msg("index refresh failed")
	}
}

// unindex drops a resource's index tuples, logging failures.
func (s *Server) unindex(ctx context.Context, resourceType, id string) {
	if err := s.index.Remove(ctx, resourceType, id); err != nil {
		s.logger.Error().Err(err).Str("resource", resourceType+"/"+id).Msg("index purge failed")
	}
}

// loadResource fetches the current version as a decoded resource.
func (s *Server) loadResource(c echo.Context, resourceType, id string) (fhir.Resource, error) {
	data, err := s.store.Get(c.Request().Context(), resourceType, id)
	if err != nil {
		return nil, err
	}
	var r fhir.Resource
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Server) handleCreate(c echo.Context) error {
	resourceType := c.Param("type")

	// Conditional create: If-None-Exist carries search parameters.
	if ifNoneExist := c.Request().Header.Get("If-None-Exist"); ifNoneExist != "" {
		ids, err := s.searchRaw(c, resourceType, ifNoneExist)
		if err != nil {
			return badRequest(c, "Invalid If-None-Exist query: "+err.Error())
		}
		switch len(ids) {
		case 0:
			// No match, fall through to a normal create.
		case 1:
			existing, err := s.loadResource(c, resourceType, ids[0])
			if err != nil {
				return storageError(c, err)
			}
			if outcome := compartment.CheckAccess(middleware.Principal(c), resourceType, existing); outcome != nil {
				return outcomeError(c, http.StatusForbidden, outcome)
			}
			c.Response().Header().Set("ETag", fhir.ETag(fhir.VersionID(existing)))
			return c.JSON(http.StatusOK, existing)
		default:
			return outcomeError(c, http.StatusPreconditionFailed,
				fhir.ErrorOutcome(fhir.IssueMultipleMatches,
					fmt.Sprintf("If-None-Exist matched %d resources", len(ids))))
		}
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

	id := fhir.ResourceID(resource)
	if id == "" {
		id = uuid.New().String()
	}
	fhir.Stamp(resource, id, "1")

	if outcome := compartment.CheckAccess(middleware.Principal(c), resourceType, resource); outcome != nil {
		return outcomeError(c, http.StatusForbidden, outcome)
	}

	if err := s.persist(c, resourceType, resource); err != nil {
		return storageError(c, err)
	}

	c.Response().Header().Set("Location", fmt.Sprintf("/%s/%s/_history/1", resourceType, id))
	c.Response().Header().Set("ETag", fhir.ETag("1"))
	return c.JSON(http.StatusCreated, resource)
}

func (s *Server) handleRead(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")

	resource, err := s.loadResource(c, resourceType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return notFound(c, resourceType, id)
	}
	if err != nil {
		return storageError(c, err)
	}

	if outcome := compartment.CheckAccess(middleware.Principal(c), resourceType, resource); outcome != nil {
		return outcomeError(c, http.StatusForbidden, outcome)
	}

	c.Response().Header().Set("ETag", fhir.ETag(fhir.VersionID(resource)))
	return c.JSON(http.StatusOK, resource)
}

func (s *Server) handleVRead(c echo.Context) error {
	resourceType, id, vid := c.Param("type"), c.Param("id"), c.Param("vid")

	data, err := s.store.GetVersion(c.Request().Context(), resourceType, id, vid)
	if errors.Is(err, storage.ErrNotFound) {
		return outcomeError(c, http.StatusNotFound,
			fhir.ErrorOutcome(fhir.IssueNotFound,
				fmt.Sprintf("%s/%s version %s not found", resourceType, id, vid)))
	}
	if err != nil {
		return storageError(c, err)
	}

	var resource fhir.Resource
	if err := json.Unmarshal(data, &resource); err != nil {
		return storageError(c, err)
	}
	if outcome := compartment.CheckAccess(middleware.Principal(c), resourceType, resource); outcome != nil {
		return outcomeError(c, http.StatusForbidden, outcome)
	}
	return c.JSON(http.StatusOK, resource)
}

func (s *Server) handleUpdate(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")

	resource, err := decodeResource(c)
	if err != nil {
		return badRequest(c, "Invalid JSON body: "+err.Error())
	}
	if rt := fhir.ResourceType(resource); rt != resourceType {
		return badRequest(c, fmt.Sprintf("Resource type %q does not match URL type %q", rt, resourceType))
	}
	resource["id"] = id

	existing, err := s.loadResource(c, resourceType, id)
	isNew := errors.Is(err, storage.ErrNotFound)
	if err != nil && !isNew {
		return storageError(c, err)
	}

	if ifMatch := c.Request().Header.Get("If-Match"); ifMatch != "" {
		current := ""
		if !isNew {
			current = fhir.VersionID(existing)
		}
		if expected := fhir.ParseETag(ifMatch); expected != current {
			return outcomeError(c, http.StatusConflict,
				fhir.ErrorOutcome(fhir.IssueConflict,
					fmt.Sprintf("Version conflict: expected %s, current is %s", expected, current)))
		}
	}

	// Both the stored resource and the incoming body must stay inside
	// the caller's compartment.
	principal := middleware.Principal(c)
	if !isNew {
		if outcome := compartment.CheckAccess(principal, resourceType, existing); outcome != nil {
			return outcomeError(c, http.StatusForbidden, outcome)
		}
	}
	if outcome := compartment.CheckAccess(principal, resourceType, resource); outcome != nil {
		return outcomeError(c, http.StatusForbidden, outcome)
	}

	if outcome := s.validator.Validate(resource); outcome != nil {
		return outcomeError(c, http.StatusBadRequest, outcome)
	}

	version := "1"
	if !isNew {
		version = fhir.NextVersion(existing)
	}
	fhir.Stamp(resource, id, version)

	if err := s.persist(c, resourceType, resource); err != nil {
		return storageError(c, err)
	}

	c.Response().Header().Set("ETag", fhir.ETag(version))
	if isNew {
		c.Response().Header().Set("Location", fmt.Sprintf("/%s/%s/_history/%s", resourceType, id, version))
		return c.JSON(http.StatusCreated, resource)
	}
	return c.JSON(http.StatusOK, resource)
}

func (s *Server) handlePatch(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")

	existing, err := s.loadResource(c, resourceType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return notFound(c, resourceType, id)
	}
	if err != nil {
		return storageError(c, err)
	}

	if ifMatch := c.Request().Header.Get("If-Match"); ifMatch != "" {
		if expected := fhir.ParseETag(ifMatch); expected != fhir.VersionID(existing) {
			return outcomeError(c, http.StatusConflict,
				fhir.ErrorOutcome(fhir.IssueConflict,
					fmt.Sprintf("Version conflict: expected %s, current is %s", expected, fhir.VersionID(existing))))
		}
	}

	principal := middleware.Principal(c)
	if outcome := compartment.CheckAccess(principal, resourceType, existing); outcome != nil {
		return outcomeError(c, http.StatusForbidden, outcome)
	}

	var ops []jsonpatch.Operation
	if err := json.NewDecoder(c.Request().Body).Decode(&ops); err != nil {
		return badRequest(c, "Invalid JSON Patch body: "+err.Error())
	}

	patched, err := jsonpatch.Apply(existing, ops)
	if err != nil {
		return badRequest(c, "Patch failed: "+err.Error())
	}
	// The patch must not move the resource.
	patched["id"] = id
	patched["resourceType"] = resourceType

	// A patch may not move the resource out of (or into) another
	// patient's compartment either.
	if outcome := compartment.CheckAccess(principal, resourceType, patched); outcome != nil {
		return outcomeError(c, http.StatusForbidden, outcome)
	}

	if outcome := s.validator.Validate(patched); outcome != nil {
		return outcomeError(c, http.StatusBadRequest, outcome)
	}

	version := fhir.NextVersion(existing)
	fhir.Stamp(patched, id, version)

	if err := s.persist(c, resourceType, patched); err != nil {
		return storageError(c, err)
	}

	c.Response().Header().Set("ETag", fhir.ETag(version))
	return c.JSON(http.StatusOK, patched)
}

func (s *Server) handleDelete(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	ctx := c.Request().Context()

	existing, err := s.loadResource(c, resourceType, id)
	if errors.Is(err, storage.ErrNotFound) {
		return notFound(c, resourceType, id)
	}
	if err != nil {
		return storageError(c, err)
	}
	if outcome := compartment.CheckAccess(middleware.Principal(c), resourceType, existing); outcome != nil {
		return outcomeError(c, http.StatusForbidden, outcome)
	}

	deleted, err := s.store.Delete(ctx, resourceType, id)
	if err != nil {
		return storageError(c, err)
	}
	if !deleted {
		return notFound(c, resourceType, id)
	}
	s.unindex(ctx, resourceType, id)
	return c.NoContent(http.StatusNoContent)
}
