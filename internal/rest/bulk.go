package rest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/storage"
)

const ndjsonContentType = "application/ndjson"

// handleExport serves GET /$export: every current resource as NDJSON,
// optionally limited by _type=A,B. Without the filter the whole store
// is dumped, whatever types it holds.
func (s *Server) handleExport(c echo.Context) error {
	ctx := c.Request().Context()

	var records []storage.Record
	if typeParam := c.QueryParam("_type"); typeParam != "" {
		for _, t := range strings.Split(typeParam, ",") {
			if t = strings.TrimSpace(t); t == "" {
				continue
			}
			typed, err := s.store.ListAll(ctx, t)
			if err != nil {
				return storageError(c, err)
			}
			records = append(records, typed...)
		}
	} else {
		var err error
		if records, err = s.store.ListAll(ctx, ""); err != nil {
			return storageError(c, err)
		}
	}

	var buf bytes.Buffer
	for _, record := range records {
		buf.Write(bytes.TrimSpace(record.Data))
		buf.WriteByte('\n')
	}

	s.logger.Info().Int("bytes", buf.Len()).Int("resources", len(records)).Msg("bulk export")
	return c.Blob(http.StatusOK, ndjsonContentType, buf.Bytes())
}

// handleImport serves POST /$import: one resource per NDJSON line.
// Lines fail independently; the response reports created and error
// counts.
func (s *Server) handleImport(c echo.Context) error {
	ctx := c.Request().Context()
	created, importErrors := 0, 0

	scanner := bufio.NewScanner(c.Request().Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resource fhir.Resource
		if err := json.Unmarshal(line, &resource); err != nil {
			importErrors++
			continue
		}
		resourceType := fhir.ResourceType(resource)
		if resourceType == "" {
			importErrors++
			continue
		}
		if outcome := s.validator.Validate(resource); outcome != nil {
			importErrors++
			continue
		}

		id := fhir.ResourceID(resource)
		if id == "" {
			id = uuid.New().String()
		}

		version := "1"
		if data, err := s.store.Get(ctx, resourceType, id); err == nil {
			var existing fhir.Resource
			if json.Unmarshal(data, &existing) == nil {
				version = fhir.NextVersion(existing)
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			importErrors++
			continue
		}

		fhir.Stamp(resource, id, version)
		data, err := json.Marshal(resource)
		if err != nil {
			importErrors++
			continue
		}
		if err := s.store.PutVersion(ctx, resourceType, id, version, data); err != nil {
			importErrors++
			continue
		}
		s.reindex(ctx, resourceType, id, resource)
		created++
	}
	if err := scanner.Err(); err != nil {
		return badRequest(c, "Failed to read import body: "+err.Error())
	}

	s.logger.Info().Int("created", created).Int("errors", importErrors).Msg("bulk import")

	severity := fhir.SeverityInformation
	status := http.StatusOK
	if importErrors > 0 {
		severity = fhir.SeverityWarning
		if created == 0 {
			status = http.StatusBadRequest
		}
	}
	outcome := fhir.NewOutcome(severity, fhir.IssueInformational,
		fmt.Sprintf("Imported %d resources, %d errors", created, importErrors))
	body := map[string]interface{}{
		"resourceType": "OperationOutcome",
		"issue":        outcome.Issue,
		"extension": []interface{}{
			map[string]interface{}{
				"url": "http://fhir-sazare.dev/StructureDefinition/import-result",
				"extension": []interface{}{
					map[string]interface{}{"url": "created", "valueInteger": created},
					map[string]interface{}{"url": "errors", "valueInteger": importErrors},
				},
			},
		},
	}
	return c.JSON(status, body)
}
