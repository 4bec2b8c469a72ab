package openai_test

import (
	"context"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/stretchr/testify/require"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/handler"
	"forge.design/mediaforge/jobcontext"
	"forge.design/mediaforge/providers/openai"
)

type fakeChat struct {
	response *oai.ChatCompletion
	err      error
	lastReq  oai.ChatCompletionNewParams
}

func (f *fakeChat) New(ctx context.Context, body oai.ChatCompletionNewParams) (*oai.ChatCompletion, error) {
	f.lastReq = body
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestInvokeReturnsTextArtefact(t *testing.T) {
	fake := &fakeChat{response: &oai.ChatCompletion{
		Choices: []oai.ChatCompletionChoice{
			{Message: oai.ChatCompletionMessage{Content: "a generated script"}},
		},
	}}
	h, err := openai.New(openai.Options{Client: fake, DefaultModel: "gpt-5"})
	require.NoError(t, err)

	resp, err := h.Invoke(context.Background(), handler.ProviderJobContext{
		JobID:    "Producer:Script",
		Produces: []string{"Artifact:Script.Script"},
		ResolvedInputs: jobcontext.Prepared{
			Inputs: map[string]jobcontext.ResolvedBinding{"Prompt": {Value: "Tell me a story"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, eventlog.StatusSucceeded, resp.Status)
	require.Equal(t, "a generated script", resp.Artefacts[0].Output.Inline)
	require.Equal(t, "gpt-5", fake.lastReq.Model)
}

func TestInvokeMissingPromptFails(t *testing.T) {
	h, err := openai.New(openai.Options{Client: &fakeChat{}, DefaultModel: "gpt-5"})
	require.NoError(t, err)

	_, err = h.Invoke(context.Background(), handler.ProviderJobContext{
		JobID:          "Producer:Script",
		Produces:       []string{"Artifact:Script.Script"},
		ResolvedInputs: jobcontext.Prepared{Inputs: map[string]jobcontext.ResolvedBinding{}},
	})
	require.Error(t, err)
	require.True(t, engineerr.Is(err, engineerr.MissingRequiredInput))
}
