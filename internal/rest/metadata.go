package rest

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
)

var resourceInteractions = []fhir.CSInteraction{
	{Code: "read"},
	{Code: "vread"},
	{Code: "create"},
	{Code: "update"},
	{Code: "patch"},
	{Code: "delete"},
	{Code: "search-type"},
	{Code: "history-instance"},
}

// handleMetadata serves the CapabilityStatement built from the search
// parameter registry.
func (s *Server) handleMetadata(c echo.Context) error {
	var resources []fhir.CSResource
	for _, resourceType := range s.registry.ResourceTypes() {
		resources = append(resources, fhir.CSResource{
			Type:              resourceType,
			Versioning:        "versioned",
			ReadHistory:       true,
			ConditionalCreate: true,
			ConditionalUpdate: true,
			ConditionalDelete: "single",
			Interaction:       resourceInteractions,
			SearchParam:       s.searchParams(resourceType),
		})
	}

	rest := fhir.CSRest{
		Mode:     "server",
		Resource: resources,
		Interaction: []fhir.CSInteraction{
			{Code: "transaction"},
			{Code: "batch"},
		},
		Operation: []fhir.CSOperation{
			{Name: "export", Definition: "http://hl7.org/fhir/uv/bulkdata/OperationDefinition/export"},
			{Name: "import", Definition: "http://fhir-sazare.dev/OperationDefinition/import"},
		},
	}

	if s.opts.AuthEnabled {
		rest.Security = map[string]interface{}{
			"cors": true,
			"service": []interface{}{
				map[string]interface{}{
					"coding": []interface{}{
						map[string]interface{}{
							"system": "http://terminology.hl7.org/CodeSystem/restful-security-service",
							"code":   "SMART-on-FHIR",
						},
					},
				},
			},
		}
	}

	statement := fhir.CapabilityStatement{
		ResourceType: "CapabilityStatement",
		Status:       "active",
		Date:         time.Now().UTC().Format(time.RFC3339),
		Kind:         "instance",
		FHIRVersion:  "4.0.1",
		Format:       []string{"application/fhir+json", "json"},
		Software: fhir.CSSoftware{
			Name:    "fhir-sazare",
			Version: s.opts.Version,
		},
		Implementation: fhir.CSImplementation{
			Description: "FHIR R4 resource server",
			URL:         s.opts.BaseURL,
		},
		Rest: []fhir.CSRest{rest},
	}
	return c.JSON(http.StatusOK, statement)
}

// searchParams flattens a type's registry definitions, advertising
// aliases as parameters in their own right.
func (s *Server) searchParams(resourceType string) []fhir.CSSearchParam {
	seen := make(map[string]bool)
	var params []fhir.CSSearchParam
	add := func(name, paramType string) {
		if !seen[name] {
			seen[name] = true
			params = append(params, fhir.CSSearchParam{Name: name, Type: paramType})
		}
	}
	for _, def := range s.registry.Definitions(resourceType) {
		add(def.Name, string(def.Type))
		for _, alias := range def.Aliases {
			add(alias, string(def.Type))
		}
	}
	return params
}

// handleSmartConfiguration serves the SMART discovery document.
func (s *Server) handleSmartConfiguration(c echo.Context) error {
	config := map[string]interface{}{
		"capabilities": []string{
			"launch-standalone", "client-confidential-symmetric",
			"context-standalone-patient", "permission-patient", "permission-user",
		},
		"code_challenge_methods_supported": []string{"S256"},
		"grant_types_supported":            []string{"authorization_code", "client_credentials"},
		"scopes_supported": []string{
			"openid", "fhirUser", "launch/patient",
			"patient/*.read", "patient/*.write",
			"user/*.read", "user/*.write",
			"system/*.read", "system/*.write",
		},
	}
	if s.opts.AuthIssuer != "" {
		config["issuer"] = s.opts.AuthIssuer
		config["authorization_endpoint"] = s.opts.AuthIssuer + "/authorize"
		config["token_endpoint"] = s.opts.AuthIssuer + "/token"
	}
	return c.JSON(http.StatusOK, config)
}
