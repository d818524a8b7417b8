// Package fhir carries the core FHIR R4 wire types shared across the
// server: resources as open JSON maps, OperationOutcome, Bundle and
// CapabilityStatement shapes, and the _summary/_elements projections.
package fhir

import (
	"strconv"
	"strings"
	"time"
)

// Resource is an open FHIR resource. Resources are stored and served as
// raw JSON objects; typed accessors below cover the handful of fields
// the server itself reads and writes.
type Resource = map[string]interface{}

// ResourceType returns the resourceType field, or "".
func ResourceType(r Resource) string {
	rt, _ := r["resourceType"].(string)
	return rt
}

// ResourceID returns the id field, or "".
func ResourceID(r Resource) string {
	id, _ := r["id"].(string)
	return id
}

// VersionID returns meta.versionId, or "".
func VersionID(r Resource) string {
	meta, _ := r["meta"].(map[string]interface{})
	if meta == nil {
		return ""
	}
	v, _ := meta["versionId"].(string)
	return v
}

// NextVersion returns the decimal successor of the resource's current
// version. A missing or unparseable version counts as 0, so the first
// write always gets "1".
func NextVersion(r Resource) string {
	cur, _ := strconv.Atoi(VersionID(r))
	return strconv.Itoa(cur + 1)
}

// Stamp sets id and replaces meta with versionId and a fresh lastUpdated.
func Stamp(r Resource, id, versionID string) {
	r["id"] = id
	r["meta"] = map[string]interface{}{
		"versionId":   versionID,
		"lastUpdated": time.Now().UTC().Format(time.RFC3339),
	}
}

// ETag formats a version id as a weak entity tag, W/"1".
func ETag(versionID string) string {
	return `W/"` + versionID + `"`
}

// ParseETag strips weak-tag quoting from an If-Match header value.
func ParseETag(header string) string {
	s := strings.TrimSpace(header)
	s = strings.TrimPrefix(s, "W/")
	return strings.Trim(s, `"`)
}

// ParseReference splits "Patient/123" into its type and id parts.
func ParseReference(ref string) (resourceType, id string, ok bool) {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// FormatReference builds "Type/id".
func FormatReference(resourceType, id string) string {
	return resourceType + "/" + id
}

// ReferenceField returns the reference string of a top-level reference
// element, e.g. subject.reference.
func ReferenceField(r Resource, field string) string {
	obj, _ := r[field].(map[string]interface{})
	if obj == nil {
		return ""
	}
	ref, _ := obj["reference"].(string)
	return ref
}
