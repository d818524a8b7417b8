// Package search parses FHIR search queries and executes them against
// the store and index.
package search

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/fu-foo/fhir-sazare/internal/registry"
)

// Param is a single parsed search parameter.
type Param struct {
	Name     string
	Value    string
	Modifier string
	// Prefix applies to date params: ge, le, gt, lt, eq.
	Prefix string
	Type   registry.ParamType
}

// Chain is a chained parameter: subject:Patient.name=Doe.
type Chain struct {
	// ReferenceParam is the reference parameter on the source type.
	ReferenceParam string
	TargetType     string
	TargetParam    string
	Value          string
	TargetParamType registry.ParamType
}

// Query is a parsed search request.
type Query struct {
	Params      []Param
	Chains      []Chain
	Includes    []string
	Revincludes []string
	// Count and Offset are -1 / 0 when absent.
	Count    int
	Offset   int
	Summary  string
	Elements []string
}

var datePrefixes = []string{"ge", "le", "gt", "lt", "eq"}

// Parse parses a raw query string for searches against resourceType.
// Pairs are processed in order; malformed pairs are skipped.
func Parse(reg *registry.Registry, resourceType, rawQuery string) (*Query, error) {
	q := &Query{Count: -1}
	if rawQuery == "" {
		return q, nil
	}

	for _, pair := range strings.Split(rawQuery, "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, err := url.QueryUnescape(kv[0])
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(kv[1])
		if err != nil {
			return nil, err
		}

		switch key {
		case "_include":
			q.Includes = append(q.Includes, value)
			continue
		case "_revinclude":
			q.Revincludes = append(q.Revincludes, value)
			continue
		case "_count":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				q.Count = n
			}
			continue
		case "_offset":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				q.Offset = n
			}
			continue
		case "_summary":
			switch value {
			case "true", "false", "text", "count", "data":
				q.Summary = value
			}
			continue
		case "_elements":
			for _, e := range strings.Split(value, ",") {
				if e = strings.TrimSpace(e); e != "" {
					q.Elements = append(q.Elements, e)
				}
			}
			continue
		}

		name, modifier := splitModifier(key)

		// A dot in the modifier position makes it a chain, not a
		// modifier: subject:Patient.name.
		if dot := strings.Index(modifier, "."); dot > 0 && dot < len(modifier)-1 {
			targetType := modifier[:dot]
			targetParam := modifier[dot+1:]
			q.Chains = append(q.Chains, Chain{
				ReferenceParam:  name,
				TargetType:      targetType,
				TargetParam:     targetParam,
				Value:           value,
				TargetParamType: inferParamType(reg, targetType, targetParam),
			})
			continue
		}

		paramType := inferParamType(reg, resourceType, name)

		prefix := ""
		if paramType == registry.Date {
			prefix, value = splitDatePrefix(value)
		}

		q.Params = append(q.Params, Param{
			Name:     name,
			Value:    value,
			Modifier: modifier,
			Prefix:   prefix,
			Type:     paramType,
		})
	}
	return q, nil
}

func splitModifier(key string) (name, modifier string) {
	if idx := strings.Index(key, ":"); idx >= 0 {
		return key[:idx], key[idx+1:]
	}
	return key, ""
}

// splitDatePrefix strips a comparison prefix: ge2020-01-01 -> ge,
// 2020-01-01. A bare value means eq.
func splitDatePrefix(value string) (prefix, rest string) {
	for _, p := range datePrefixes {
		if strings.HasPrefix(value, p) {
			return p, value[len(p):]
		}
	}
	return "eq", value
}

// inferParamType resolves a parameter's type from the registry first,
// then falls back to name heuristics, then string.
func inferParamType(reg *registry.Registry, resourceType, name string) registry.ParamType {
	if pt, ok := reg.LookupParamType(resourceType, name); ok {
		return pt
	}
	switch name {
	case "identifier", "code", "status", "gender", "intent",
		"vaccine-code", "clinical-status", "type", "category",
		"priority", "requisition":
		return registry.Token
	case "name", "family", "given", "address":
		return registry.String
	case "birthdate", "date", "period":
		return registry.Date
	case "subject", "patient", "encounter", "owner", "requester":
		return registry.Reference
	}
	return registry.String
}
