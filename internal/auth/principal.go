// Package auth holds the authenticated principal and SMART scope
// checks shared by the HTTP middleware and the compartment filter.
package auth

import "strings"

// Method identifies how a principal authenticated.
type Method string

const (
	MethodAPIKey Method = "api-key"
	MethodBasic  Method = "basic"
	MethodJWT    Method = "jwt"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID string
	Method Method
	Scopes []string
	// PatientID carries the SMART launch context patient claim.
	PatientID string
}

// IsPatientScoped reports whether the principal holds only patient/
// scopes. A user/ or system/ scope widens access beyond one patient.
func (p *Principal) IsPatientScoped() bool {
	if len(p.Scopes) == 0 {
		return false
	}
	hasPatient, hasOther := false, false
	for _, s := range p.Scopes {
		switch {
		case strings.HasPrefix(s, "patient/"):
			hasPatient = true
		case strings.HasPrefix(s, "user/"), strings.HasPrefix(s, "system/"):
			hasOther = true
		}
	}
	return hasPatient && !hasOther
}

// CheckScope evaluates SMART on FHIR v2 scopes of the form
// context/resourceType.action against a resource type and action.
// Wildcards are allowed on both resourceType and action.
func CheckScope(scopes []string, resourceType, action string) bool {
	for _, scope := range scopes {
		slash := strings.Index(scope, "/")
		if slash < 0 {
			continue
		}
		rest := scope[slash+1:]
		dot := strings.Index(rest, ".")
		if dot < 0 {
			continue
		}
		scopeRT, scopeAction := rest[:dot], rest[dot+1:]
		rtMatch := scopeRT == "*" || scopeRT == resourceType
		actionMatch := scopeAction == "*" || scopeAction == action
		if rtMatch && actionMatch {
			return true
		}
	}
	return false
}

// ResourceAction maps an HTTP method and path to the (resourceType,
// action) pair a scope must cover. Non-resource paths return ok=false
// and skip the scope check.
func ResourceAction(method, path string) (resourceType, action string, ok bool) {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		return "", "", false
	}
	switch segments[0] {
	case "health", "metadata", "$export", "$import", "$status", ".well-known", "metrics":
		return "", "", false
	}
	switch method {
	case "GET", "HEAD":
		action = "read"
	case "POST", "PUT", "PATCH", "DELETE":
		action = "write"
	default:
		return "", "", false
	}
	return segments[0], action, true
}
