package fhir

// OperationOutcome issue severities.
const (
	SeverityFatal       = "fatal"
	SeverityError       = "error"
	SeverityWarning     = "warning"
	SeverityInformation = "information"
)

// OperationOutcome issue type codes.
const (
	IssueInvalid         = "invalid"
	IssueRequired        = "required"
	IssueStructure       = "structure"
	IssueValue           = "value"
	IssueNotFound        = "not-found"
	IssueNotSupported    = "not-supported"
	IssueConflict        = "conflict"
	IssueMultipleMatches = "multiple-matches"
	IssueProcessing      = "processing"
	IssueException       = "exception"
	IssueForbidden       = "forbidden"
	IssueInformational   = "informational"
	IssueCodeInvalid     = "code-invalid"
)

// Issue is a single OperationOutcome.issue element.
type Issue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

// OperationOutcome is the FHIR error/report resource returned on every
// failure and by $validate.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	Issue        []Issue `json:"issue"`
}

// NewOutcome builds an OperationOutcome with a single issue.
func NewOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []Issue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

// ErrorOutcome builds an error-severity outcome with the given issue code.
func ErrorOutcome(code, diagnostics string) *OperationOutcome {
	return NewOutcome(SeverityError, code, diagnostics)
}

// NotFoundOutcome reports a missing resource instance.
func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOutcome(SeverityError, IssueNotFound, resourceType+"/"+id+" not found")
}

// StorageOutcome wraps a storage-layer failure.
func StorageOutcome(diagnostics string) *OperationOutcome {
	return NewOutcome(SeverityError, IssueException, diagnostics)
}

// InformationOutcome builds an information-severity outcome, used by
// $validate and $import on success.
func InformationOutcome(diagnostics string) *OperationOutcome {
	return NewOutcome(SeverityInformation, IssueInformational, diagnostics)
}

// AddIssue appends an issue and returns the outcome for chaining.
func (o *OperationOutcome) AddIssue(severity, code, diagnostics string) *OperationOutcome {
	o.Issue = append(o.Issue, Issue{Severity: severity, Code: code, Diagnostics: diagnostics})
	return o
}

// AddIssueAt appends an issue with an expression locating the element.
func (o *OperationOutcome) AddIssueAt(severity, code, diagnostics, expression string) *OperationOutcome {
	o.Issue = append(o.Issue, Issue{
		Severity:    severity,
		Code:        code,
		Diagnostics: diagnostics,
		Expression:  []string{expression},
	})
	return o
}

// HasErrors reports whether any issue is error or fatal severity.
func (o *OperationOutcome) HasErrors() bool {
	for _, is := range o.Issue {
		if is.Severity == SeverityError || is.Severity == SeverityFatal {
			return true
		}
	}
	return false
}
