package index

import (
	"github.com/fu-foo/fhir-sazare/internal/registry"
)

// Entry is one projected index tuple for a resource.
type Entry struct {
	ParamName string
	ParamType registry.ParamType
	Value     string
	System    string
}

// Project walks a resource against its registry definitions and emits
// the index tuples, one per extracted value, duplicated under each
// alias.
func Project(reg *registry.Registry, resourceType string, resource map[string]interface{}) []Entry {
	var entries []Entry
	for _, def := range reg.Definitions(resourceType) {
		for _, v := range extract(def, resource) {
			entries = append(entries, Entry{
				ParamName: def.Name,
				ParamType: def.Type,
				Value:     v.value,
				System:    v.system,
			})
			for _, alias := range def.Aliases {
				entries = append(entries, Entry{
					ParamName: alias,
					ParamType: def.Type,
					Value:     v.value,
					System:    v.system,
				})
			}
		}
	}
	return entries
}

type extracted struct {
	value  string
	system string
}

func extract(def registry.ParamDef, resource map[string]interface{}) []extracted {
	switch def.Extraction {
	case registry.Simple:
		if s, ok := resource[def.Path[0]].(string); ok && s != "" {
			return []extracted{{value: s}}
		}
	case registry.ArrayField:
		return extractArrayField(resource, def.Path)
	case registry.NestedArrayScalar:
		return extractNestedArrayScalar(resource, def.Path)
	case registry.CodeableConcept:
		return extractCodeableConcept(resource[def.Path[0]])
	case registry.Identifier:
		return extractIdentifier(resource[def.Path[0]])
	case registry.ReferenceField:
		if obj, ok := resource[def.Path[0]].(map[string]interface{}); ok {
			if ref, ok := obj["reference"].(string); ok && ref != "" {
				return []extracted{{value: ref}}
			}
		}
	case registry.PeriodStart:
		return extractNestedString(resource, def.Path)
	}
	return nil
}

// extractArrayField reads field path[1] of each element of the array at
// path[0]: name[*].family.
func extractArrayField(resource map[string]interface{}, path []string) []extracted {
	arr, ok := resource[path[0]].([]interface{})
	if !ok {
		return nil
	}
	var out []extracted
	for _, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if s, ok := obj[path[1]].(string); ok && s != "" {
			out = append(out, extracted{value: s})
		}
	}
	return out
}

// extractNestedArrayScalar reads the string array path[1] of each
// element of the array at path[0]: name[*].given[*].
func extractNestedArrayScalar(resource map[string]interface{}, path []string) []extracted {
	arr, ok := resource[path[0]].([]interface{})
	if !ok {
		return nil
	}
	var out []extracted
	for _, item := range arr {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		inner, ok := obj[path[1]].([]interface{})
		if !ok {
			continue
		}
		for _, v := range inner {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, extracted{value: s})
			}
		}
	}
	return out
}

// extractCodeableConcept accepts a single concept object or an array of
// them and emits every coding's code with its system.
func extractCodeableConcept(node interface{}) []extracted {
	var concepts []map[string]interface{}
	switch v := node.(type) {
	case map[string]interface{}:
		concepts = append(concepts, v)
	case []interface{}:
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				concepts = append(concepts, obj)
			}
		}
	default:
		return nil
	}

	var out []extracted
	for _, concept := range concepts {
		codings, ok := concept["coding"].([]interface{})
		if !ok {
			continue
		}
		for _, c := range codings {
			coding, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			code, _ := coding["code"].(string)
			if code == "" {
				continue
			}
			system, _ := coding["system"].(string)
			out = append(out, extracted{value: code, system: system})
		}
	}
	return out
}

// extractIdentifier accepts a single identifier object or an array and
// emits value with system.
func extractIdentifier(node interface{}) []extracted {
	var idents []map[string]interface{}
	switch v := node.(type) {
	case map[string]interface{}:
		idents = append(idents, v)
	case []interface{}:
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				idents = append(idents, obj)
			}
		}
	default:
		return nil
	}

	var out []extracted
	for _, ident := range idents {
		value, _ := ident["value"].(string)
		if value == "" {
			continue
		}
		system, _ := ident["system"].(string)
		out = append(out, extracted{value: value, system: system})
	}
	return out
}

// extractNestedString walks object fields along the path and returns
// the string at the end: period.start.
func extractNestedString(resource map[string]interface{}, path []string) []extracted {
	var cur interface{} = resource
	for _, seg := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[seg]
	}
	if s, ok := cur.(string); ok && s != "" {
		return []extracted{{value: s}}
	}
	return nil
}
