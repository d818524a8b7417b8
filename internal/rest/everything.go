package rest

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/compartment"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/platform/middleware"
	"github.com/fu-foo/fhir-sazare/internal/storage"
)

// everythingParams maps each compartment resource type to the index
// search parameters that link it to a patient. The projector indexes
// the patient alias for every patient-linking parameter, so "patient"
// covers subject/for fields alike; Task additionally matches via owner.
var everythingParams = map[string][]string{
	"Observation":        {"patient"},
	"Encounter":          {"patient"},
	"Condition":          {"patient"},
	"MedicationRequest":  {"patient"},
	"Procedure":          {"patient"},
	"AllergyIntolerance": {"patient"},
	"DiagnosticReport":   {"patient"},
	"Immunization":       {"patient"},
	"Task":               {"patient", "owner"},
}

// everythingTypes fixes the response order.
var everythingTypes = []string{
	"Observation", "Encounter", "Condition", "MedicationRequest",
	"Procedure", "AllergyIntolerance", "DiagnosticReport",
	"Immunization", "Task",
}

// handleEverything serves GET /Patient/id/$everything: the patient plus
// every resource in their compartment.
func (s *Server) handleEverything(c echo.Context) error {
	resourceType, id := c.Param("type"), c.Param("id")
	ctx := c.Request().Context()

	if resourceType != "Patient" {
		return outcomeError(c, http.StatusBadRequest,
			fhir.ErrorOutcome(fhir.IssueNotSupported, "$everything is only supported on Patient"))
	}

	patient, err := s.loadResource(c, "Patient", id)
	if errors.Is(err, storage.ErrNotFound) {
		return notFound(c, "Patient", id)
	}
	if err != nil {
		return storageError(c, err)
	}
	if outcome := compartment.CheckAccess(middleware.Principal(c), "Patient", patient); outcome != nil {
		return outcomeError(c, http.StatusForbidden, outcome)
	}

	bundle := fhir.NewBundle(fhir.BundleSearchset)
	bundle.AddMatch("Patient", patient)

	reference := fhir.FormatReference("Patient", id)
	for _, rt := range everythingTypes {
		for _, param := range everythingParams[rt] {
			ids, err := s.index.SearchReference(ctx, rt, param, reference)
			if err != nil {
				return storageError(c, err)
			}
			resources, err := s.executor.LoadResources(ctx, rt, ids)
			if err != nil {
				return storageError(c, err)
			}
			for _, r := range resources {
				full := fhir.FormatReference(rt, fhir.ResourceID(r))
				if !bundle.HasEntry(full) {
					bundle.AddMatch(rt, r)
				}
			}
		}
	}

	bundle.SetTotal(len(bundle.Entry))
	return c.JSON(http.StatusOK, bundle)
}
