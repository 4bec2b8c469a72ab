package jobcontext

import (
	"github.com/santhosh-tekuri/jsonschema/v6"

	"forge.design/mediaforge/engineerr"
)

// Values flattens p into a plain map suitable for JSON Schema validation:
// an envelope binding becomes its ordered groups, a plain binding becomes
// its value.
func (p Prepared) Values() map[string]any {
	out := make(map[string]any, len(p.Inputs))
	for name, binding := range p.Inputs {
		if binding.Envelope != nil {
			out[name] = binding.Envelope.Groups
			continue
		}
		out[name] = binding.Value
	}
	return out
}

func compile(schema map[string]any, resourceID string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceID, schema); err != nil {
		return nil, err
	}
	return c.Compile(resourceID)
}

// ValidateInput validates a job's resolved inputs against its declared
// input schema. A nil/empty schema is treated as "no
// constraint".
func ValidateInput(jobID string, schema map[string]any, values map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	sch, err := compile(schema, "mediaforge://input")
	if err != nil {
		return engineerr.Wrap(engineerr.UserInput, err, "job %s: invalid input schema", jobID)
	}
	if err := sch.Validate(values); err != nil {
		return engineerr.Wrap(engineerr.UserInput, err, "job %s: resolved inputs fail schema validation", jobID)
	}
	return nil
}

// ValidateOutput validates one produced artefact's value against a job's
// declared output schema. A nil/empty schema is treated as "no constraint".
func ValidateOutput(jobID string, schema map[string]any, output any) error {
	if len(schema) == 0 {
		return nil
	}
	sch, err := compile(schema, "mediaforge://output")
	if err != nil {
		return engineerr.Wrap(engineerr.ProviderPermanent, err, "job %s: invalid output schema", jobID)
	}
	if err := sch.Validate(output); err != nil {
		return engineerr.Wrap(engineerr.ProviderPermanent, err, "job %s: produced output fails schema validation", jobID)
	}
	return nil
}
