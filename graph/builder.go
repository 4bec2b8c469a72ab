package graph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"forge.design/mediaforge/blueprint"
	"forge.design/mediaforge/engineerr"
)

// flatProducer is one producer together with the namespace path of the
// imports that nest it.
type flatProducer struct {
	path     []string
	producer blueprint.Producer
}

// Build expands bp against rootInputs into a ProducerGraph. rootInputs maps
// root input names to already-resolved values (scalars, slices, maps); file
// references are expected to already be resolved to blob envelopes by the
// caller.
func Build(bp *blueprint.Blueprint, rootInputs map[string]any) (*ProducerGraph, error) {
	flats := flatten(bp, nil)

	ordered, err := topoSortProducers(flats)
	if err != nil {
		return nil, err
	}

	extents, err := resolveDimensionExtents(ordered, rootInputs)
	if err != nil {
		return nil, err
	}

	b := &builder{
		extents:     extents,
		rootInputs:  rootInputs,
		byAlias:     make(map[string]flatProducer),
		producedBy:  make(map[string]string),
		graph:       &ProducerGraph{},
	}
	for _, fp := range ordered {
		b.byAlias[aliasKey(fp.path, fp.producer.Alias)] = fp
	}

	for _, fp := range ordered {
		if err := b.expandProducer(fp); err != nil {
			return nil, err
		}
	}

	return b.graph, nil
}

// flatten walks bp's import tree depth-first, returning every producer
// together with the namespace path of aliases leading to it.
func flatten(bp *blueprint.Blueprint, path []string) []flatProducer {
	var out []flatProducer
	for _, p := range bp.Producers {
		out = append(out, flatProducer{path: append([]string(nil), path...), producer: p})
	}
	for _, imp := range bp.Imports {
		if imp.Blueprint == nil {
			continue
		}
		childPath := append(append([]string(nil), path...), imp.Alias)
		out = append(out, flatten(imp.Blueprint, childPath)...)
	}
	return out
}

func aliasKey(path []string, alias string) string {
	if len(path) == 0 {
		return alias
	}
	return strings.Join(path, ".") + "." + alias
}

// topoSortProducers orders producers so that any producer referenced by an
// artifact-kind input binding appears before the producer consuming it.
func topoSortProducers(flats []flatProducer) ([]flatProducer, error) {
	byAlias := make(map[string]int, len(flats))
	for i, fp := range flats {
		byAlias[aliasKey(fp.path, fp.producer.Alias)] = i
	}

	indegree := make([]int, len(flats))
	dependents := make([][]int, len(flats))
	for i, fp := range flats {
		for _, in := range fp.producer.Inputs {
			if in.Source.Kind != blueprint.RefArtifact {
				continue
			}
			srcIdx, ok := resolveAliasIndex(byAlias, fp.path, in.Source.ProducerAlias)
			if !ok {
				continue
			}
			indegree[i]++
			dependents[srcIdx] = append(dependents[srcIdx], i)
		}
	}

	var queue []int
	for i := range flats {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	sort.Ints(queue)

	var ordered []flatProducer
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		ordered = append(ordered, flats[idx])
		next := dependents[idx]
		sort.Ints(next)
		for _, d := range next {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
				sort.Ints(queue)
			}
		}
	}

	if len(ordered) != len(flats) {
		return nil, engineerr.New(engineerr.CycleDetected, "producer graph has a cycle among producer declarations")
	}
	return ordered, nil
}

// resolveAliasIndex finds the flat index of a producer alias reachable from
// the referencing producer's namespace path: it prefers a sibling at the
// same path, falling back to a search by bare alias.
func resolveAliasIndex(byAlias map[string]int, fromPath []string, alias string) (int, bool) {
	if idx, ok := byAlias[aliasKey(fromPath, alias)]; ok {
		return idx, true
	}
	if idx, ok := byAlias[alias]; ok {
		return idx, true
	}
	for key, idx := range byAlias {
		if strings.HasSuffix(key, "."+alias) {
			return idx, true
		}
	}
	return 0, false
}

// resolveDimensionExtents computes, by fixed-point iteration, the extent of
// every named dimension across the whole producer set. Two parents feeding
// one child on the same dimension name must agree on extent (dimension
// unification); a mismatch is a ConflictingDimensions build error.
func resolveDimensionExtents(ordered []flatProducer, rootInputs map[string]any) (map[string]int, error) {
	extents := make(map[string]int)
	// producerDims records, per producer alias key, the dimensions it
	// declares. Nothing below reads it: an artifact-kind CountFrom takes the
	// extent already recorded in extents under the same dimension name.
	producerDims := make(map[string][]blueprint.Dimension)
	for _, fp := range ordered {
		producerDims[aliasKey(fp.path, fp.producer.Alias)] = fp.producer.Dimensions
	}

	remaining := make([]flatProducer, len(ordered))
	copy(remaining, ordered)

	for pass := 0; len(remaining) > 0; pass++ {
		if pass > len(ordered)+1 {
			return nil, engineerr.New(engineerr.UserInput, "could not resolve dimension extents: unresolved upstream references remain")
		}
		var deferred []flatProducer
		for _, fp := range remaining {
			for _, dim := range fp.producer.Dimensions {
				extent, ok, err := resolveOneExtent(dim, rootInputs)
				if err != nil {
					return nil, err
				}
				if !ok {
					deferred = append(deferred, fp)
					continue
				}
				if existing, seen := extents[dim.Name]; seen && existing != extent {
					return nil, engineerr.New(engineerr.ConflictingDimensions,
						"dimension %q has extent %d from one parent and %d from another", dim.Name, existing, extent)
				}
				extents[dim.Name] = extent
			}
		}
		if len(deferred) == len(remaining) {
			// No progress this pass: attempt artifact-sourced dims against
			// already-known extents one last time before failing.
			for _, fp := range deferred {
				for _, dim := range fp.producer.Dimensions {
					if _, ok := extents[dim.Name]; !ok {
						return nil, engineerr.New(engineerr.UserInput, "dimension %q could not be resolved", dim.Name)
					}
				}
			}
			break
		}
		remaining = deferred
	}
	return extents, nil
}

func resolveOneExtent(dim blueprint.Dimension, rootInputs map[string]any) (int, bool, error) {
	if dim.CountField != "" {
		v, ok := rootInputs[dim.CountField]
		if !ok {
			return 0, false, nil
		}
		n, ok := asInt(v)
		if !ok {
			return 0, false, engineerr.New(engineerr.UserInput, "count field %q is not an integer", dim.CountField)
		}
		return n, true, nil
	}

	switch dim.CountFrom.Kind {
	case blueprint.RefRootInput:
		v, ok := rootInputs[dim.CountFrom.Name]
		if !ok {
			return 0, false, nil
		}
		coll, ok := v.([]any)
		if !ok {
			return 0, false, engineerr.New(engineerr.UserInput, "root input %q driving dimension %q is not a collection", dim.CountFrom.Name, dim.Name)
		}
		return len(coll), true, nil
	case blueprint.RefArtifact:
		// Deferred: the extent for this dimension name must already have
		// been established by whichever producer owns the fan-out source.
		return 0, false, nil
	default:
		return 0, false, engineerr.New(engineerr.UserInput, "dimension %q has no resolvable source", dim.Name)
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

type builder struct {
	extents    map[string]int
	rootInputs map[string]any
	byAlias    map[string]flatProducer
	producedBy map[string]string // canonical artifact id -> producing jobID
	graph      *ProducerGraph
}

// expandProducer creates one job node per combined index in fp's declared
// dimensions (the cartesian product over distinct dimension names; shared
// names across sources contribute one combined index, never a cross
// product across sources — that unification already happened in
// resolveDimensionExtents).
func (b *builder) expandProducer(fp flatProducer) error {
	combos := combinations(fp.producer.Dimensions, b.extents)
	for _, indices := range combos {
		node, err := b.buildJob(fp, indices)
		if err != nil {
			return err
		}
		b.graph.Nodes = append(b.graph.Nodes, node)
	}
	return nil
}

// combinations enumerates every index assignment over dims, in row-major
// order with the first-declared dimension varying slowest.
func combinations(dims []blueprint.Dimension, extents map[string]int) []map[string]int {
	if len(dims) == 0 {
		return []map[string]int{{}}
	}
	var rec func(i int, acc map[string]int) []map[string]int
	rec = func(i int, acc map[string]int) []map[string]int {
		if i == len(dims) {
			cp := make(map[string]int, len(acc))
			for k, v := range acc {
				cp[k] = v
			}
			return []map[string]int{cp}
		}
		dim := dims[i]
		extent := extents[dim.Name]
		var out []map[string]int
		for idx := 0; idx < extent; idx++ {
			acc[dim.Name] = idx
			out = append(out, rec(i+1, acc)...)
		}
		delete(acc, dim.Name)
		return out
	}
	return rec(0, map[string]int{})
}

func indicesSuffix(order []string, indices map[string]int) string {
	var sb strings.Builder
	for _, name := range order {
		fmt.Fprintf(&sb, "[%d]", indices[name])
	}
	return sb.String()
}

func dimOrder(dims []blueprint.Dimension) []string {
	names := make([]string, len(dims))
	for i, d := range dims {
		names[i] = d.Name
	}
	return names
}

func (b *builder) buildJob(fp flatProducer, indices map[string]int) (JobDescriptor, error) {
	order := dimOrder(fp.producer.Dimensions)
	suffix := indicesSuffix(order, indices)
	fullAlias := aliasKey(fp.path, fp.producer.Alias)
	jobID := "Producer:" + fullAlias + suffix

	produces := make([]string, 0, len(fp.producer.Produces))
	for _, out := range fp.producer.Produces {
		artID := "Artifact:" + fullAlias + "." + out + suffix
		produces = append(produces, artID)
		b.producedBy[artID] = jobID
	}

	ctx := JobContext{
		NamespacePath:   fp.path,
		Indices:         indices,
		ProducerAlias:   fp.producer.Alias,
		InputBindings:   make(map[string]Binding),
		InputConditions: make(map[string]InputCondition),
		SDKMapping:      fp.producer.SDKMapping,
		SchemaInput:     fp.producer.InputSchema,
		SchemaOutput:    fp.producer.OutputSchema,
	}

	var inputs []string
	for _, in := range fp.producer.Inputs {
		key := in.LogicalName
		if in.ElementIndex != nil {
			key = fmt.Sprintf("%s[%d]", in.LogicalName, *in.ElementIndex)
		}

		binding, consumed, err := b.resolveBinding(fp, indices, in)
		if err != nil {
			return JobDescriptor{}, err
		}
		ctx.InputBindings[key] = binding
		inputs = append(inputs, consumed...)

		if in.Condition != nil {
			ctx.InputConditions[key] = InputCondition{
				InputName: in.Condition.InputName,
				Operator:  in.Condition.Operator,
				Value:     in.Condition.Value,
				Required:  in.Condition.Required,
			}
		}
	}

	for _, id := range inputs {
		if producer, ok := b.producedBy[id]; ok {
			b.graph.Edges = append(b.graph.Edges, Edge{From: producer, To: jobID})
		}
	}

	return JobDescriptor{
		JobID:         jobID,
		Producer:      fp.producer.Alias,
		Inputs:        inputs,
		Produces:      produces,
		Provider:      fp.producer.Provider,
		ProviderModel: fp.producer.ProviderModel,
		RateKey:       fp.producer.RateKey,
		Context:       ctx,
	}, nil
}

// resolveBinding resolves one input binding to a canonical source, returning
// the Binding to store and the list of canonical ids it consumes (for edge
// derivation and the job's flat Inputs list).
func (b *builder) resolveBinding(fp flatProducer, indices map[string]int, in blueprint.InputBinding) (Binding, []string, error) {
	switch in.Source.Kind {
	case blueprint.RefRootInput:
		id := "Input:" + in.Source.Name
		if in.ElementIndex != nil {
			id = fmt.Sprintf("%s[%d]", id, *in.ElementIndex)
		}
		return Binding{CanonicalID: id}, []string{id}, nil

	case blueprint.RefConfigInput:
		fullAlias := aliasKey(fp.path, fp.producer.Alias)
		id := fmt.Sprintf("Input:%s.%s", fullAlias, in.Source.Name)
		return Binding{CanonicalID: id}, []string{id}, nil

	case blueprint.RefArtifact:
		return b.resolveArtifactBinding(fp, indices, in)

	default:
		return Binding{}, nil, engineerr.New(engineerr.UserInput, "input %q of producer %q has no resolvable source", in.LogicalName, fp.producer.Alias)
	}
}

func (b *builder) resolveArtifactBinding(fp flatProducer, indices map[string]int, in blueprint.InputBinding) (Binding, []string, error) {
	src, ok := b.findProducer(fp.path, in.Source.ProducerAlias)
	if !ok {
		return Binding{}, nil, engineerr.New(engineerr.UserInput, "unknown producer %q referenced by %q", in.Source.ProducerAlias, fp.producer.Alias)
	}

	srcFullAlias := aliasKey(src.path, src.producer.Alias)
	sharedDims, extraDims := splitDimensions(fp.producer.Dimensions, src.producer.Dimensions)

	sharedIndices := make(map[string]int, len(sharedDims))
	for _, name := range sharedDims {
		sharedIndices[name] = indices[name]
	}

	if len(extraDims) == 0 {
		order := dimOrder(src.producer.Dimensions)
		suffix := indicesSuffix(order, sharedIndices)
		id := "Artifact:" + srcFullAlias + "." + in.Source.Output + suffix
		if in.ElementIndex != nil {
			id = fmt.Sprintf("%s[%d]", id, *in.ElementIndex)
		}
		return Binding{CanonicalID: id}, []string{id}, nil
	}

	if in.FanIn == nil {
		return Binding{}, nil, engineerr.New(engineerr.ConflictingDimensions,
			"input %q of producer %q needs a fan-in envelope: source %q varies over %v beyond the consumer's own dimensions",
			in.LogicalName, fp.producer.Alias, in.Source.ProducerAlias, extraDims)
	}
	if len(extraDims) > 1 {
		return Binding{}, nil, engineerr.New(engineerr.ConflictingDimensions,
			"input %q of producer %q has ambiguous fan-in over multiple dimensions %v", in.LogicalName, fp.producer.Alias, extraDims)
	}

	groupDim := extraDims[0]
	extent := b.extents[groupDim]
	order := dimOrder(src.producer.Dimensions)

	type member struct {
		id    string
		order int
	}
	members := make([]member, 0, extent)
	var consumed []string
	for idx := 0; idx < extent; idx++ {
		full := make(map[string]int, len(sharedIndices)+1)
		for k, v := range sharedIndices {
			full[k] = v
		}
		full[groupDim] = idx
		suffix := indicesSuffix(order, full)
		id := "Artifact:" + srcFullAlias + "." + in.Source.Output + suffix
		members = append(members, member{id: id, order: idx})
		consumed = append(consumed, id)
	}
	if in.FanIn.OrderBy != "" && in.FanIn.OrderBy != groupDim {
		return Binding{}, nil, engineerr.New(engineerr.ConflictingDimensions,
			"input %q orders by %q but fans in over %q", in.LogicalName, in.FanIn.OrderBy, groupDim)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].order < members[j].order })

	groups := make([][]string, len(members))
	for i, m := range members {
		groups[i] = []string{m.id}
	}

	return Binding{Envelope: &FanInEnvelope{GroupBy: in.FanIn.GroupBy, OrderBy: in.FanIn.OrderBy, Groups: groups}}, consumed, nil
}

func (b *builder) findProducer(fromPath []string, alias string) (flatProducer, bool) {
	if fp, ok := b.byAlias[aliasKey(fromPath, alias)]; ok {
		return fp, true
	}
	if fp, ok := b.byAlias[alias]; ok {
		return fp, true
	}
	for key, fp := range b.byAlias {
		if strings.HasSuffix(key, "."+alias) {
			return fp, true
		}
	}
	return flatProducer{}, false
}

// splitDimensions partitions src's dimensions into those the consumer
// shares (same name appears in consumerDims) and those it doesn't (the
// fan-in candidates).
func splitDimensions(consumerDims, srcDims []blueprint.Dimension) (shared []string, extra []string) {
	consumerNames := make(map[string]bool, len(consumerDims))
	for _, d := range consumerDims {
		consumerNames[d.Name] = true
	}
	for _, d := range srcDims {
		if consumerNames[d.Name] {
			shared = append(shared, d.Name)
		} else {
			extra = append(extra, d.Name)
		}
	}
	return shared, extra
}
