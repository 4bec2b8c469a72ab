// Package jobcontext resolves a job's input bindings against a flat table
// of canonical-id values into the per-job view a provider handler receives.
package jobcontext

import (
	"fmt"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/graph"
)

// ResolvedEnvelope is a fan-in envelope with member ids replaced by their
// resolved values, grouping preserved.
type ResolvedEnvelope struct {
	GroupBy string
	OrderBy string
	Groups  [][]any
}

// ResolvedBinding is one logical input's resolved value: either a plain
// value or a fan-in envelope.
type ResolvedBinding struct {
	Value    any
	Envelope *ResolvedEnvelope
}

// SystemInputs are injected into every job unconditionally.
type SystemInputs struct {
	StorageRoot     string
	StorageBasePath string
	MovieID         string
}

// Prepared is the per-job view passed to a provider handler.
type Prepared struct {
	Inputs map[string]ResolvedBinding
	System map[string]any
}

// Prepare resolves job's input bindings against resolvedInputs, a flat
// table from canonical id to its materialised value (root input, config
// input, or upstream artefact output). Any binding, or fan-in member, whose
// canonical id is absent from resolvedInputs fails with
// MissingRequiredInput. Prepare does not look at inputConditions; the
// runner evaluates them after Prepare returns.
func Prepare(job graph.JobDescriptor, resolvedInputs map[string]any, sys SystemInputs) (Prepared, error) {
	out := Prepared{
		Inputs: make(map[string]ResolvedBinding, len(job.Context.InputBindings)),
		System: map[string]any{
			"Input:StorageRoot":     sys.StorageRoot,
			"Input:StorageBasePath": sys.StorageBasePath,
			"Input:MovieId":         sys.MovieID,
		},
	}

	for logicalName, binding := range job.Context.InputBindings {
		if binding.Envelope != nil {
			resolved := ResolvedEnvelope{GroupBy: binding.Envelope.GroupBy, OrderBy: binding.Envelope.OrderBy}
			for _, group := range binding.Envelope.Groups {
				var values []any
				for _, memberID := range group {
					v, ok := resolvedInputs[memberID]
					if !ok {
						return Prepared{}, engineerr.New(engineerr.MissingRequiredInput, "job %s: fan-in member %q has no resolved value", job.JobID, memberID)
					}
					values = append(values, v)
				}
				resolved.Groups = append(resolved.Groups, values)
			}
			out.Inputs[logicalName] = ResolvedBinding{Envelope: &resolved}
			continue
		}

		v, ok := resolvedInputs[binding.CanonicalID]
		if !ok {
			return Prepared{}, engineerr.New(engineerr.MissingRequiredInput, "job %s: input %q (%s) has no resolved value", job.JobID, logicalName, binding.CanonicalID)
		}
		out.Inputs[logicalName] = ResolvedBinding{Value: v}
	}

	return out, nil
}

// EvaluateCondition resolves cond.InputName against resolvedInputs and
// applies cond.Operator ("==" or "!="). It returns an error for any other
// operator.
func EvaluateCondition(cond graph.InputCondition, resolvedInputs map[string]any) (bool, error) {
	actual, ok := resolvedInputs[cond.InputName]
	if !ok {
		// An unresolved condition input compares as nil: "==" against a
		// non-nil value is false (a required condition then skips the job
		// rather than failing it), and "!=" is true.
		actual = nil
	}
	switch cond.Operator {
	case "==":
		return actual == cond.Value, nil
	case "!=":
		return actual != cond.Value, nil
	default:
		return false, fmt.Errorf("jobcontext: unsupported condition operator %q", cond.Operator)
	}
}
