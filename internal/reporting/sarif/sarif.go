// internal/reporting/sarif/sarif.go
package sarif

// Go structs for the subset of SARIF 2.1.0 the reporter emits. Pointers mark
// optional fields; required fields use value types.

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

type Run struct {
	Tool        *Tool         `json:"tool"`
	Invocations []*Invocation `json:"invocations,omitempty"`
	Results     []*Result     `json:"results"`
	Properties  *PropertyBag  `json:"properties,omitempty"`
}

// Invocation records how the run ended.
type Invocation struct {
	ExecutionSuccessful bool         `json:"executionSuccessful"`
	StartTimeUTC        *string      `json:"startTimeUtc,omitempty"`
	EndTimeUTC          *string      `json:"endTimeUtc,omitempty"`
	ExitCodeDescription *string      `json:"exitCodeDescription,omitempty"`
	Properties          *PropertyBag `json:"properties,omitempty"`
}

type Tool struct {
	Driver *ToolComponent `json:"driver"`
}

// ToolComponent describes the tool that produced the results. Pointers are used for optional bits.
type ToolComponent struct {
	Name           string                 `json:"name"`
	Version        *string                `json:"version,omitempty"`
	InformationURI *string                `json:"informationUri,omitempty"`
	Rules          []*ReportingDescriptor `json:"rules,omitempty"`
}

type ReportingDescriptor struct {
	ID               string                    `json:"id"` // Required
	Name             *string                   `json:"name,omitempty"`
	ShortDescription *MultiformatMessageString `json:"shortDescription,omitempty"`
	FullDescription  *MultiformatMessageString `json:"fullDescription,omitempty"`
	Help             *MultiformatMessageString `json:"help,omitempty"`
	Properties       *PropertyBag              `json:"properties,omitempty"`
}

type Result struct {
	RuleID              string            `json:"ruleId"` // Required
	Message             *Message          `json:"message"`
	Level               Level             `json:"level,omitempty"`
	Locations           []*Location       `json:"locations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Properties          *PropertyBag      `json:"properties,omitempty"`
}

type Location struct {
	PhysicalLocation *PhysicalLocation  `json:"physicalLocation,omitempty"`
	LogicalLocations []*LogicalLocation `json:"logicalLocations,omitempty"`
	Message          *Message           `json:"message,omitempty"`
}

// LogicalLocation names a DOM element by its selector.
type LogicalLocation struct {
	FullyQualifiedName *string `json:"fullyQualifiedName,omitempty"`
	Kind               *string `json:"kind,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
}

type ArtifactLocation struct {
	URI *string `json:"uri,omitempty"`
}

type Message struct {
	Text *string `json:"text,omitempty"`
}

type MultiformatMessageString struct {
	Text     *string `json:"text"`
	Markdown *string `json:"markdown,omitempty"`
}

type PropertyBag map[string]interface{}

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
)
