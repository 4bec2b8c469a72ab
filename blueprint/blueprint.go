// Package blueprint defines the already-parsed blueprint tree the producer
// graph builder consumes. Parsing blueprint YAML and validating it against a
// schema are out of scope for this module; callers hand the
// builder a tree already shaped like this.
package blueprint

// Meta identifies a blueprint document.
type Meta struct {
	Name    string `json:"name" yaml:"name"`
	ID      string `json:"id" yaml:"id"`
	Version string `json:"version" yaml:"version"`
}

// RefKind discriminates what a SourceRef points at.
type RefKind string

const (
	// RefRootInput points at a root input of the enclosing blueprint.
	RefRootInput RefKind = "root_input"
	// RefArtifact points at another producer's declared output.
	RefArtifact RefKind = "artifact"
	// RefConfigInput points at a per-producer config selector such as
	// Input:<Alias>.model or Input:<Alias>.provider; these never
	// participate in dimension unification or fan-in.
	RefConfigInput RefKind = "config_input"
)

// SourceRef names where a producer's input value comes from.
type SourceRef struct {
	Kind RefKind `json:"kind" yaml:"kind"`
	// Name is the root input name when Kind == RefRootInput, or the config
	// field name when Kind == RefConfigInput.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// ProducerAlias and Output identify the upstream producer and its named
	// output when Kind == RefArtifact.
	ProducerAlias string `json:"producerAlias,omitempty" yaml:"producerAlias,omitempty"`
	Output        string `json:"output,omitempty" yaml:"output,omitempty"`
}

// FanIn requests that a downstream input receive every upstream index
// grouped, rather than flattened, when an input binding's source has more
// dimension indices than the consuming producer declares.
type FanIn struct {
	GroupBy string `json:"groupBy" yaml:"groupBy"`
	OrderBy string `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
}

// Condition gates a producer's input on a predicate over another resolved
// input's value. The builder stores it verbatim in a job's
// context.inputConditions; it is evaluated at runtime, not at graph build
// time.
type Condition struct {
	InputName string `json:"inputName" yaml:"inputName"`
	Operator  string `json:"operator" yaml:"operator"` // "==" or "!="
	Value     any    `json:"value" yaml:"value"`
	// Required marks the condition as gating the whole job: a false
	// evaluation synthesises a skipped result instead of one missing
	// input. A non-required condition only affects whether that single
	// input is present.
	Required bool `json:"required" yaml:"required"`
}

// InputBinding declares where one logical input of a producer comes from.
type InputBinding struct {
	LogicalName string    `json:"logicalName" yaml:"logicalName"`
	Source      SourceRef `json:"source" yaml:"source"`
	// ElementIndex selects one element out of a collection source, e.g.
	// ReferenceImages[0].
	ElementIndex *int       `json:"elementIndex,omitempty" yaml:"elementIndex,omitempty"`
	FanIn        *FanIn     `json:"fanIn,omitempty" yaml:"fanIn,omitempty"`
	Condition    *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Dimension declares a loop dimension a producer expands over. Extent is
// determined at graph-build time from CountFrom: either the length of a
// collection-valued source, or (if CountField is set) an integer count
// input.
type Dimension struct {
	Name       string    `json:"name" yaml:"name"`
	CountFrom  SourceRef `json:"countFrom" yaml:"countFrom"`
	CountField string    `json:"countField,omitempty" yaml:"countField,omitempty"`
}

// Producer declares one node template: a named recipe bound to a handler
// via (Provider, ProviderModel) at expansion time.
type Producer struct {
	Alias         string            `json:"alias" yaml:"alias"`
	ProducerID    string            `json:"producerId" yaml:"producerId"`
	Provider      string            `json:"provider" yaml:"provider"`
	ProviderModel string            `json:"providerModel" yaml:"providerModel"`
	RateKey       string            `json:"rateKey,omitempty" yaml:"rateKey,omitempty"`
	Dimensions    []Dimension       `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Inputs        []InputBinding    `json:"inputs" yaml:"inputs"`
	Produces      []string          `json:"produces" yaml:"produces"`
	SDKMapping    map[string]string `json:"sdkMapping,omitempty" yaml:"sdkMapping,omitempty"`
	InputSchema   map[string]any    `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	OutputSchema  map[string]any    `json:"outputSchema,omitempty" yaml:"outputSchema,omitempty"`
}

// Import nests a composite blueprint under an alias, extending the
// namespace path for every producer it contains.
type Import struct {
	Alias     string     `json:"alias" yaml:"alias"`
	Blueprint *Blueprint `json:"blueprint" yaml:"blueprint"`
}

// RootInput declares one root input the enclosing blueprint accepts.
type RootInput struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required" yaml:"required"`
}

// Blueprint is the already-parsed tree the producer graph builder expands.
type Blueprint struct {
	Meta       Meta        `json:"meta" yaml:"meta"`
	RootInputs []RootInput `json:"rootInputs" yaml:"rootInputs"`
	Producers  []Producer  `json:"producers" yaml:"producers"`
	Imports    []Import    `json:"imports,omitempty" yaml:"imports,omitempty"`
}
