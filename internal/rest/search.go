package rest

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/compartment"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/platform/middleware"
	"github.com/fu-foo/fhir-sazare/internal/search"
)

func (s *Server) handleSearch(c echo.Context) error {
	resourceType := c.Param("type")
	ctx := c.Request().Context()

	q, err := search.Parse(s.registry, resourceType, c.Request().URL.RawQuery)
	if err != nil {
		return badRequest(c, "Invalid search query: "+err.Error())
	}
	if q.Count < 0 {
		q.Count = defaultPageSize
	}

	// _summary=count returns only the total, skipping resource loads.
	// A patient-scoped caller still gets the compartment-filtered count,
	// not the global one, so every match is loaded and filtered first.
	if q.Summary == fhir.SummaryCount {
		var total int
		if principal := middleware.Principal(c); principal != nil && principal.IsPatientScoped() {
			unpaged := *q
			unpaged.Count, unpaged.Offset = -1, 0
			ids, _, err := s.executor.SearchWithTotal(ctx, resourceType, &unpaged)
			if err != nil {
				return storageError(c, err)
			}
			resources, err := s.executor.LoadResources(ctx, resourceType, ids)
			if err != nil {
				return storageError(c, err)
			}
			total = len(compartment.Filter(principal, resourceType, resources))
		} else {
			_, t, err := s.executor.SearchWithTotal(ctx, resourceType, q)
			if err != nil {
				return storageError(c, err)
			}
			total = t
		}
		bundle := fhir.NewBundle(fhir.BundleSearchset).SetTotal(total)
		return c.JSON(http.StatusOK, bundle)
	}

	ids, total, err := s.executor.SearchWithTotal(ctx, resourceType, q)
	if err != nil {
		return storageError(c, err)
	}

	resources, err := s.executor.LoadResources(ctx, resourceType, ids)
	if err != nil {
		return storageError(c, err)
	}

	// Patient-scoped callers only see their compartment; the total then
	// reflects the filtered page rather than the unfiltered count.
	principal := middleware.Principal(c)
	if principal != nil && principal.IsPatientScoped() {
		resources = compartment.Filter(principal, resourceType, resources)
		total = len(resources)
	}

	// Resolve includes before projections strip the reference fields.
	included := s.executor.Includes(ctx, resources, q.Includes)
	var revincluded []fhir.Resource
	if len(q.Revincludes) > 0 {
		revincluded, err = s.executor.Revincludes(ctx, resources, resourceType, q.Revincludes)
		if err != nil {
			return storageError(c, err)
		}
	}

	bundle := fhir.NewBundle(fhir.BundleSearchset).SetTotal(total)
	bundle.Link = fhir.PaginationLinks(resourceType, c.QueryParams(), q.Count, q.Offset, total)

	for _, r := range resources {
		if q.Summary != "" && q.Summary != fhir.SummaryFalse {
			fhir.ApplySummary(r, q.Summary)
		}
		if len(q.Elements) > 0 {
			fhir.ApplyElements(r, q.Elements)
		}
		bundle.AddMatch(resourceType, r)
	}

	for _, r := range append(included, revincluded...) {
		full := fhir.FormatReference(fhir.ResourceType(r), fhir.ResourceID(r))
		if !bundle.HasEntry(full) {
			bundle.AddInclude(r)
		}
	}

	return c.JSON(http.StatusOK, bundle)
}
