package fhir

// CapabilityStatement describes the server's REST surface for /metadata.
type CapabilityStatement struct {
	ResourceType   string             `json:"resourceType"`
	Status         string             `json:"status"`
	Date           string             `json:"date,omitempty"`
	Kind           string             `json:"kind"`
	FHIRVersion    string             `json:"fhirVersion"`
	Format         []string           `json:"format"`
	Software       CSSoftware         `json:"software"`
	Implementation CSImplementation   `json:"implementation"`
	Rest           []CSRest           `json:"rest"`
}

// CSSoftware is CapabilityStatement.software.
type CSSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// CSImplementation is CapabilityStatement.implementation.
type CSImplementation struct {
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

// CSRest is a CapabilityStatement.rest element.
type CSRest struct {
	Mode        string          `json:"mode"`
	Security    interface{}     `json:"security,omitempty"`
	Resource    []CSResource    `json:"resource"`
	Interaction []CSInteraction `json:"interaction,omitempty"`
	Operation   []CSOperation   `json:"operation,omitempty"`
}

// CSResource describes one supported resource type.
type CSResource struct {
	Type              string          `json:"type"`
	Versioning        string          `json:"versioning,omitempty"`
	ReadHistory       bool            `json:"readHistory,omitempty"`
	ConditionalCreate bool            `json:"conditionalCreate,omitempty"`
	ConditionalUpdate bool            `json:"conditionalUpdate,omitempty"`
	ConditionalDelete string          `json:"conditionalDelete,omitempty"`
	Interaction       []CSInteraction `json:"interaction,omitempty"`
	SearchParam       []CSSearchParam `json:"searchParam,omitempty"`
}

// CSInteraction is a supported interaction code.
type CSInteraction struct {
	Code string `json:"code"`
}

// CSSearchParam advertises a supported search parameter.
type CSSearchParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// CSOperation advertises a system-level operation.
type CSOperation struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}
