package rest

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
)

// handleValidate serves POST /Type/$validate. The response is always
// 200; the outcome body carries the verdict. The resource may arrive
// bare or wrapped in a Parameters resource.
func (s *Server) handleValidate(c echo.Context) error {
	resourceType := c.Param("type")

	body, err := decodeResource(c)
	if err != nil {
		return c.JSON(http.StatusOK,
			fhir.ErrorOutcome(fhir.IssueStructure, "Invalid JSON body: "+err.Error()))
	}

	resource := unwrapParameters(body)
	if resource == nil {
		return c.JSON(http.StatusOK,
			fhir.ErrorOutcome(fhir.IssueRequired, "Parameters has no resource parameter"))
	}

	if rt := fhir.ResourceType(resource); rt != resourceType {
		return c.JSON(http.StatusOK,
			fhir.ErrorOutcome(fhir.IssueInvalid,
				fmt.Sprintf("Resource type %q does not match URL type %q", rt, resourceType)))
	}

	if outcome := s.validator.Validate(resource); outcome != nil {
		return c.JSON(http.StatusOK, outcome)
	}
	return c.JSON(http.StatusOK, fhir.InformationOutcome("Validation successful"))
}

// unwrapParameters returns parameter[name="resource"].resource when the
// body is a Parameters resource, the body itself otherwise, or nil when
// a Parameters wrapper carries no resource.
func unwrapParameters(body fhir.Resource) fhir.Resource {
	if fhir.ResourceType(body) != "Parameters" {
		return body
	}
	params, _ := body["parameter"].([]interface{})
	for _, raw := range params {
		param, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if name, _ := param["name"].(string); name != "resource" {
			continue
		}
		if resource, ok := param["resource"].(map[string]interface{}); ok {
			return resource
		}
	}
	return nil
}
