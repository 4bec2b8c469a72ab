package anthropic_test

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/handler"
	"forge.design/mediaforge/jobcontext"
	"forge.design/mediaforge/providers/anthropic"
)

type fakeMessages struct {
	response *sdk.Message
	err      error
	lastReq  sdk.MessageNewParams
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.lastReq = body
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func TestInvokeReturnsTextArtefact(t *testing.T) {
	fake := &fakeMessages{response: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "a generated script"}},
	}}
	h, err := anthropic.New(anthropic.Options{Client: fake, DefaultModel: "claude-sonnet"})
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
	require.Equal(t, "claude-sonnet", string(fake.lastReq.Model))
}

func TestInvokeMissingPromptFails(t *testing.T) {
	h, err := anthropic.New(anthropic.Options{Client: &fakeMessages{}, DefaultModel: "claude-sonnet"})
	require.NoError(t, err)

	_, err = h.Invoke(context.Background(), handler.ProviderJobContext{
		JobID:          "Producer:Script",
		Produces:       []string{"Artifact:Script.Script"},
		ResolvedInputs: jobcontext.Prepared{Inputs: map[string]jobcontext.ResolvedBinding{}},
	})
	require.Error(t, err)
	require.True(t, engineerr.Is(err, engineerr.MissingRequiredInput))
}
