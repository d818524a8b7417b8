package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/fu-foo/fhir-sazare/internal/index"
	"github.com/fu-foo/fhir-sazare/internal/platform/fhir"
	"github.com/fu-foo/fhir-sazare/internal/registry"
	"github.com/fu-foo/fhir-sazare/internal/storage"
)

// Executor runs parsed queries against the store and index.
type Executor struct {
	store storage.Store
	index *index.Index
}

// NewExecutor binds an executor to its store and index.
func NewExecutor(store storage.Store, ix *index.Index) *Executor {
	return &Executor{store: store, index: ix}
}

// Search returns the matching resource IDs with paging applied.
func (e *Executor) Search(ctx context.Context, resourceType string, q *Query) ([]string, error) {
	ids, _, err := e.SearchWithTotal(ctx, resourceType, q)
	return ids, err
}

// SearchWithTotal returns paged matching IDs plus the total match count
// before paging.
func (e *Executor) SearchWithTotal(ctx context.Context, resourceType string, q *Query) ([]string, int, error) {
	var result []string
	matched := false

	// AND-intersect each parameter's ID set in query order; empty
	// intersections exit early.
	for _, p := range q.Params {
		ids, err := e.searchParam(ctx, resourceType, p)
		if err != nil {
			return nil, 0, err
		}
		result, matched = intersect(result, ids, matched)
		if matched && len(result) == 0 {
			break
		}
	}

	for _, c := range q.Chains {
		if matched && len(result) == 0 {
			break
		}
		ids, err := e.searchChain(ctx, resourceType, c)
		if err != nil {
			return nil, 0, err
		}
		result, matched = intersect(result, ids, matched)
	}

	// No constraining parameters: every resource of the type matches.
	if !matched {
		records, err := e.store.ListAll(ctx, resourceType)
		if err != nil {
			return nil, 0, err
		}
		for _, r := range records {
			result = append(result, r.ID)
		}
	}

	total := len(result)

	if q.Offset > 0 {
		if q.Offset >= len(result) {
			result = nil
		} else {
			result = result[q.Offset:]
		}
	}
	if q.Count >= 0 && len(result) > q.Count {
		result = result[:q.Count]
	}
	return result, total, nil
}

func intersect(existing, ids []string, matched bool) ([]string, bool) {
	if !matched {
		return ids, true
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	var out []string
	for _, id := range existing {
		if set[id] {
			out = append(out, id)
		}
	}
	return out, true
}

func (e *Executor) searchParam(ctx context.Context, resourceType string, p Param) ([]string, error) {
	switch p.Type {
	case registry.Token:
		system, code := splitTokenValue(p.Value)
		return e.index.SearchToken(ctx, resourceType, p.Name, system, code)
	case registry.String:
		exact := p.Modifier == "exact"
		return e.index.SearchString(ctx, resourceType, p.Name, p.Value, exact)
	case registry.Date:
		prefix := p.Prefix
		if prefix == "" {
			prefix = "eq"
		}
		return e.index.SearchDate(ctx, resourceType, p.Name, prefix, p.Value)
	case registry.Reference:
		return e.index.SearchReference(ctx, resourceType, p.Name, p.Value)
	}
	// Number search is not supported.
	return nil, nil
}

// splitTokenValue splits system|code; a bare value has no system.
func splitTokenValue(value string) (system, code string) {
	if idx := strings.Index(value, "|"); idx >= 0 {
		return value[:idx], value[idx+1:]
	}
	return "", value
}

// searchChain resolves subject:Patient.name=Doe by searching the target
// type first, then unioning reference searches for each match.
func (e *Executor) searchChain(ctx context.Context, resourceType string, c Chain) ([]string, error) {
	target := Param{
		Name:  c.TargetParam,
		Value: c.Value,
		Type:  c.TargetParamType,
	}
	if c.TargetParamType == registry.Date {
		target.Prefix = "eq"
	}

	targetIDs, err := e.searchParam(ctx, c.TargetType, target)
	if err != nil {
		return nil, err
	}
	if len(targetIDs) == 0 {
		return nil, nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, tid := range targetIDs {
		ids, err := e.index.SearchReference(ctx, resourceType, c.ReferenceParam, fhir.FormatReference(c.TargetType, tid))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// LoadResources loads the current versions of the given IDs, skipping
// IDs whose resource has been deleted since indexing.
func (e *Executor) LoadResources(ctx context.Context, resourceType string, ids []string) ([]fhir.Resource, error) {
	resources := make([]fhir.Resource, 0, len(ids))
	for _, id := range ids {
		data, err := e.store.Get(ctx, resourceType, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var r fhir.Resource
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, nil
}

// Includes follows top-level reference fields of the matches per
// _include spec "SourceType:param" and loads the targets.
func (e *Executor) Includes(ctx context.Context, resources []fhir.Resource, includes []string) []fhir.Resource {
	var included []fhir.Resource
	for _, spec := range includes {
		parts := strings.Split(spec, ":")
		if len(parts) != 2 {
			continue
		}
		param := parts[1]

		for _, r := range resources {
			ref := fhir.ReferenceField(r, param)
			if ref == "" {
				continue
			}
			refType, refID, ok := fhir.ParseReference(ref)
			if !ok {
				continue
			}
			data, err := e.store.Get(ctx, refType, refID)
			if err != nil {
				continue
			}
			var target fhir.Resource
			if json.Unmarshal(data, &target) == nil {
				included = append(included, target)
			}
		}
	}
	return included
}

// Revincludes loads resources that reference the matches, per
// _revinclude spec "TargetType:param", deduped across (type, id).
func (e *Executor) Revincludes(ctx context.Context, resources []fhir.Resource, resourceType string, revincludes []string) ([]fhir.Resource, error) {
	var included []fhir.Resource
	seen := make(map[string]bool)

	for _, spec := range revincludes {
		parts := strings.Split(spec, ":")
		if len(parts) != 2 {
			continue
		}
		targetType, param := parts[0], parts[1]

		for _, r := range resources {
			id := fhir.ResourceID(r)
			if id == "" {
				continue
			}
			reference := fhir.FormatReference(resourceType, id)

			ids, err := e.index.SearchReference(ctx, targetType, param, reference)
			if err != nil {
				return nil, err
			}
			for _, mid := range ids {
				key := fhir.FormatReference(targetType, mid)
				if seen[key] {
					continue
				}
				seen[key] = true

				data, err := e.store.Get(ctx, targetType, mid)
				if err != nil {
					continue
				}
				var target fhir.Resource
				if json.Unmarshal(data, &target) == nil {
					included = append(included, target)
				}
			}
		}
	}
	return included, nil
}
