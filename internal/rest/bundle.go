package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/search"
	"github.com/fu-foo/fhir-sazare/internal/storage"
)

// bundleEntry is a parsed request-bundle entry.
type bundleEntry struct {
	fullURL  string
	resource fhir.Resource
	method   string
	url      string
	// ifNoneExist carries the conditional create query.
	ifNoneExist string

	// assigned during ID assignment
	resourceType string
	id           string
	// skip marks an ifNoneExist entry satisfied by an existing resource.
	skip     bool
	response fhir.BundleResponse
}

// handleBundle serves POST / for transaction and batch bundles.
func (s *Server) handleBundle(c echo.Context) error {
	var bundle fhir.Resource
	if err := json.NewDecoder(c.Request().Body).Decode(&bundle); err != nil {
		return badRequest(c, "Invalid JSON body: "+err.Error())
	}
	if rt := fhir.ResourceType(bundle); rt != "Bundle" {
		return badRequest(c, fmt.Sprintf("Expected a Bundle, got %q", rt))
	}

	bundleType, _ := bundle["type"].(string)
	switch bundleType {
	case fhir.BundleTransaction:
		return s.processTransaction(c, bundle)
	case fhir.BundleBatch:
		return s.processBatch(c, bundle)
	}
	return badRequest(c, fmt.Sprintf("Bundle type must be transaction or batch, got %q", bundleType))
}

// parseEntries extracts and checks the request element of every entry.
func parseEntries(bundle fhir.Resource) ([]*bundleEntry, error) {
	rawEntries, _ := bundle["entry"].([]interface{})
	entries := make([]*bundleEntry, 0, len(rawEntries))
	for i, raw := range rawEntries {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entry %d is not an object", i)
		}
		request, ok := obj["request"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entry %d is missing request", i)
		}
		method, _ := request["method"].(string)
		entryURL, _ := request["url"].(string)
		if method == "" || entryURL == "" {
			return nil, fmt.Errorf("entry %d request needs method and url", i)
		}
		entry := &bundleEntry{
			method: strings.ToUpper(method),
			url:    entryURL,
		}
		entry.fullURL, _ = obj["fullUrl"].(string)
		entry.resource, _ = obj["resource"].(map[string]interface{})
		entry.ifNoneExist, _ = request["ifNoneExist"].(string)
		entries = append(entries, entry)
	}
	return entries, nil
}

// parseRequestURL splits "Patient" or "Patient/p1" plus an optional
// query string.
func parseRequestURL(raw string) (resourceType, id string) {
	path := raw
	if q := strings.Index(path, "?"); q >= 0 {
		path = path[:q]
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	resourceType = parts[0]
	if len(parts) > 1 {
		id = parts[1]
	}
	return resourceType, id
}

// resolveReferences rewrites urn:uuid references using the fullUrl map,
// walking nested objects and arrays.
func resolveReferences(value interface{}, refMap map[string]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, child := range v {
			if key == "reference" {
				if ref, ok := child.(string); ok {
					if resolved, ok := refMap[ref]; ok {
						v[key] = resolved
					}
				}
				continue
			}
			resolveReferences(child, refMap)
		}
	case []interface{}:
		for _, child := range v {
			resolveReferences(child, refMap)
		}
	}
}

func (s *Server) processTransaction(c echo.Context, bundle fhir.Resource) error {
	ctx := c.Request().Context()

	entries, err := parseEntries(bundle)
	if err != nil {
		return badRequest(c, err.Error())
	}

	// Validate every mutating entry before touching the store.
	for i, entry := range entries {
		if entry.method != http.MethodPost && entry.method != http.MethodPut {
			continue
		}
		if entry.resource == nil {
			return badRequest(c, fmt.Sprintf("entry %d (%s) is missing a resource", i, entry.method))
		}
		if outcome := s.validator.Validate(entry.resource); outcome != nil {
			return outcomeError(c, http.StatusBadRequest, outcome)
		}
	}

	// Assign IDs and build the urn:uuid reference map.
	refMap := make(map[string]string)
	for i, entry := range entries {
		resourceType, urlID := parseRequestURL(entry.url)
		entry.resourceType = resourceType

		switch entry.method {
		case http.MethodPost:
			if entry.ifNoneExist != "" {
				ids, err := s.searchRaw(c, resourceType, entry.ifNoneExist)
				if err != nil {
					return badRequest(c, "Invalid ifNoneExist query: "+err.Error())
				}
				if len(ids) > 1 {
					return outcomeError(c, http.StatusPreconditionFailed,
						fhir.ErrorOutcome(fhir.IssueMultipleMatches,
							fmt.Sprintf("ifNoneExist matched %d resources", len(ids))))
				}
				if len(ids) == 1 {
					entry.id = ids[0]
					entry.skip = true
					entry.response = fhir.BundleResponse{
						Status:   "200 OK",
						Location: fhir.FormatReference(resourceType, entry.id),
					}
					if entry.fullURL != "" {
						refMap[entry.fullURL] = fhir.FormatReference(resourceType, entry.id)
					}
					continue
				}
			}
			entry.id = uuid.New().String()
		case http.MethodPut, http.MethodDelete:
			if urlID == "" {
				return badRequest(c, fmt.Sprintf("entry %d: %s requires Type/id in url", i, entry.method))
			}
			entry.id = urlID
		default:
			return badRequest(c, fmt.Sprintf("entry %d: unsupported method %s", i, entry.method))
		}

		if entry.fullURL != "" {
			refMap[entry.fullURL] = fhir.FormatReference(resourceType, entry.id)
		}
	}

	for _, entry := range entries {
		if entry.resource != nil && !entry.skip {
			resolveReferences(entry.resource, refMap)
		}
	}

	// Execute everything in one store transaction.
	err = s.store.InTransaction(ctx, func(ops storage.TxOps) error {
		for _, entry := range entries {
			if entry.skip {
				continue
			}
			switch entry.method {
			case http.MethodPost:
				fhir.Stamp(entry.resource, entry.id, "1")
				data, err := json.Marshal(entry.resource)
				if err != nil {
					return err
				}
				if err := ops.PutVersion(ctx, entry.resourceType, entry.id, "1", data); err != nil {
					return err
				}
				entry.response = fhir.BundleResponse{
					Status:   "201 Created",
					Location: fmt.Sprintf("%s/%s/_history/1", entry.resourceType, entry.id),
					ETag:     fhir.ETag("1"),
				}
			case http.MethodPut:
				version := 1
				created := true
				if data, err := ops.Get(ctx, entry.resourceType, entry.id); err == nil {
					created = false
					var existing fhir.Resource
					if err := json.Unmarshal(data, &existing); err != nil {
						return err
					}
					cur, _ := strconv.Atoi(fhir.VersionID(existing))
					version = cur + 1
				}
				vid := strconv.Itoa(version)
				fhir.Stamp(entry.resource, entry.id, vid)
				data, err := json.Marshal(entry.resource)
				if err != nil {
					return err
				}
				if err := ops.PutVersion(ctx, entry.resourceType, entry.id, vid, data); err != nil {
					return err
				}
				status := "200 OK"
				if created {
					status = "201 Created"
				}
				entry.response = fhir.BundleResponse{
					Status:   status,
					Location: fmt.Sprintf("%s/%s/_history/%s", entry.resourceType, entry.id, vid),
					ETag:     fhir.ETag(vid),
				}
			case http.MethodDelete:
				if _, err := ops.Delete(ctx, entry.resourceType, entry.id); err != nil {
					return err
				}
				entry.response = fhir.BundleResponse{Status: "204 No Content"}
			}
		}
		return nil
	})
	if err != nil {
		return outcomeError(c, http.StatusInternalServerError,
			fhir.StorageOutcome("Transaction failed: "+err.Error()))
	}

	// Refresh the index only after the transaction commits; a refresh
	// failure never undoes the committed writes.
	for _, entry := range entries {
		if entry.skip {
			continue
		}
		switch entry.method {
		case http.MethodPost, http.MethodPut:
			s.reindex(ctx, entry.resourceType, entry.id, entry.resource)
		case http.MethodDelete:
			s.unindex(ctx, entry.resourceType, entry.id)
		}
	}

	response := fhir.NewBundle(fhir.BundleTransactionResponse)
	for _, entry := range entries {
		resp := entry.response
		response.Entry = append(response.Entry, fhir.BundleEntry{Response: &resp})
	}
	return c.JSON(http.StatusOK, response)
}

// errorEntry builds a batch response entry carrying an outcome.
func errorEntry(status string, outcome *fhir.OperationOutcome) fhir.BundleEntry {
	return fhir.BundleEntry{
		Response: &fhir.BundleResponse{Status: status, Outcome: outcome},
	}
}

// processBatch executes each entry independently; one failure never
// affects the others.
func (s *Server) processBatch(c echo.Context, bundle fhir.Resource) error {
	ctx := c.Request().Context()
	response := fhir.NewBundle(fhir.BundleBatchResponse)

	rawEntries, _ := bundle["entry"].([]interface{})
	for i, raw := range rawEntries {
		single := fhir.Resource{"entry": []interface{}{raw}}
		entries, err := parseEntries(single)
		if err != nil {
			response.Entry = append(response.Entry,
				errorEntry("400 Bad Request", fhir.ErrorOutcome(fhir.IssueInvalid, err.Error())))
			continue
		}
		entry := entries[0]
		entry.resourceType, entry.id = parseRequestURL(entry.url)

		switch entry.method {
		case http.MethodPost, http.MethodPut:
			if entry.resource == nil {
				response.Entry = append(response.Entry,
					errorEntry("400 Bad Request", fhir.ErrorOutcome(fhir.IssueInvalid,
						fmt.Sprintf("entry %d is missing a resource", i))))
				continue
			}
			if outcome := s.validator.Validate(entry.resource); outcome != nil {
				response.Entry = append(response.Entry, errorEntry("400 Bad Request", outcome))
				continue
			}
		}

		response.Entry = append(response.Entry, s.executeBatchEntry(ctx, entry))
	}

	return c.JSON(http.StatusOK, response)
}

// executeBatchEntry runs one batch entry against the store directly.
func (s *Server) executeBatchEntry(ctx context.Context, entry *bundleEntry) fhir.BundleEntry {
	switch entry.method {
	case http.MethodPost:
		// Conditional create works in batch mode too: one match returns
		// the existing resource's location instead of creating.
		if entry.ifNoneExist != "" {
			q, err := search.Parse(s.registry, entry.resourceType, entry.ifNoneExist)
			if err != nil {
				return errorEntry("400 Bad Request",
					fhir.ErrorOutcome(fhir.IssueInvalid, "Invalid ifNoneExist query: "+err.Error()))
			}
			ids, err := s.executor.Search(ctx, entry.resourceType, q)
			if err != nil {
				return errorEntry("500 Internal Server Error", fhir.StorageOutcome(err.Error()))
			}
			switch {
			case len(ids) == 1:
				return fhir.BundleEntry{Response: &fhir.BundleResponse{
					Status:   "200 OK",
					Location: fhir.FormatReference(entry.resourceType, ids[0]),
				}}
			case len(ids) > 1:
				return errorEntry("412 Precondition Failed",
					fhir.ErrorOutcome(fhir.IssueMultipleMatches,
						fmt.Sprintf("ifNoneExist matched %d resources", len(ids))))
			}
		}

		id := uuid.New().String()
		fhir.Stamp(entry.resource, id, "1")
		data, err := json.Marshal(entry.resource)
		if err != nil {
			return errorEntry("500 Internal Server Error", fhir.StorageOutcome(err.Error()))
		}
		if err := s.store.PutVersion(ctx, entry.resourceType, id, "1", data); err != nil {
			return errorEntry("500 Internal Server Error", fhir.StorageOutcome(err.Error()))
		}
		s.reindex(ctx, entry.resourceType, id, entry.resource)
		return fhir.BundleEntry{Response: &fhir.BundleResponse{
			Status:   "201 Created",
			Location: fmt.Sprintf("%s/%s/_history/1", entry.resourceType, id),
			ETag:     fhir.ETag("1"),
		}}

	case http.MethodPut:
		if entry.id == "" {
			return errorEntry("400 Bad Request",
				fhir.ErrorOutcome(fhir.IssueInvalid, "PUT requires Type/id in url"))
		}
		version := "1"
		status := "201 Created"
		if data, err := s.store.Get(ctx, entry.resourceType, entry.id); err == nil {
			var existing fhir.Resource
			if json.Unmarshal(data, &existing) == nil {
				version = fhir.NextVersion(existing)
				status = "200 OK"
			}
		}
		fhir.Stamp(entry.resource, entry.id, version)
		data, err := json.Marshal(entry.resource)
		if err != nil {
			return errorEntry("500 Internal Server Error", fhir.StorageOutcome(err.Error()))
		}
		if err := s.store.PutVersion(ctx, entry.resourceType, entry.id, version, data); err != nil {
			return errorEntry("500 Internal Server Error", fhir.StorageOutcome(err.Error()))
		}
		s.reindex(ctx, entry.resourceType, entry.id, entry.resource)
		return fhir.BundleEntry{Response: &fhir.BundleResponse{
			Status:   status,
			Location: fmt.Sprintf("%s/%s/_history/%s", entry.resourceType, entry.id, version),
			ETag:     fhir.ETag(version),
		}}

	case http.MethodDelete:
		if entry.id == "" {
			return errorEntry("400 Bad Request",
				fhir.ErrorOutcome(fhir.IssueInvalid, "DELETE requires Type/id in url"))
		}
		if _, err := s.store.Delete(ctx, entry.resourceType, entry.id); err != nil {
			return errorEntry("500 Internal Server Error", fhir.StorageOutcome(err.Error()))
		}
		s.unindex(ctx, entry.resourceType, entry.id)
		return fhir.BundleEntry{Response: &fhir.BundleResponse{Status: "204 No Content"}}
	}

	return errorEntry("400 Bad Request",
		fhir.ErrorOutcome(fhir.IssueNotSupported, "unsupported method "+entry.method))
}
