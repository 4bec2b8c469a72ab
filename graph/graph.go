// Package graph expands a blueprint plus resolved root inputs into a
// concrete ProducerGraph: job nodes indexed by dimension, their input
// bindings, and the edges derived from artifact consumption.
package graph

// FanInEnvelope groups many upstream indices feeding a single downstream
// input, preserving grouping semantics instead of flattening to a list.
type FanInEnvelope struct {
	GroupBy string     `json:"groupBy"`
	OrderBy string     `json:"orderBy,omitempty"`
	Groups  [][]string `json:"groups"`
}

// Binding is the resolved form of one logical input: either a single
// canonical id (root input, config input, or one artifact), or a fan-in
// envelope over many upstream indices.
type Binding struct {
	CanonicalID string         `json:"canonicalId,omitempty"`
	Envelope    *FanInEnvelope `json:"envelope,omitempty"`
}

// InputCondition is a stored predicate over a resolved input's value,
// evaluated by the runner rather than the graph builder.
type InputCondition struct {
	InputName string `json:"inputName"`
	Operator  string `json:"operator"`
	Value     any    `json:"value"`
	Required  bool   `json:"required"`
}

// JobContext carries everything a job needs beyond its canonical input and
// output ids.
type JobContext struct {
	NamespacePath   []string                  `json:"namespacePath"`
	Indices         map[string]int            `json:"indices"`
	ProducerAlias   string                    `json:"producerAlias"`
	InputBindings   map[string]Binding        `json:"inputBindings"`
	InputConditions map[string]InputCondition `json:"inputConditions,omitempty"`
	SDKMapping      map[string]string         `json:"sdkMapping,omitempty"`
	SchemaInput     map[string]any            `json:"schemaInput,omitempty"`
	SchemaOutput    map[string]any            `json:"schemaOutput,omitempty"`
}

// JobDescriptor (ProducerGraphNode) is one fully-indexed instance of a
// producer: one call to a Handler.
type JobDescriptor struct {
	JobID         string     `json:"jobId"`
	Producer      string     `json:"producer"`
	Inputs        []string   `json:"inputs"`
	Produces      []string   `json:"produces"`
	Provider      string     `json:"provider"`
	ProviderModel string     `json:"providerModel"`
	RateKey       string     `json:"rateKey"`
	Context       JobContext `json:"context"`
}

// Edge is a directed dependency derived from the transitive closure of
// artifact consumption: From must complete before To begins.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ProducerGraph is the full expansion of a blueprint against one set of
// resolved root inputs.
type ProducerGraph struct {
	Nodes []JobDescriptor `json:"nodes"`
	Edges []Edge          `json:"edges"`
}

// NodeByID returns the node with the given job id, or false if absent.
func (g *ProducerGraph) NodeByID(jobID string) (JobDescriptor, bool) {
	for _, n := range g.Nodes {
		if n.JobID == jobID {
			return n, true
		}
	}
	return JobDescriptor{}, false
}
