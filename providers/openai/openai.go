// Package openai is a Handler backed by the OpenAI Chat Completions API,
// following the same client-wrapping shape as the other provider handlers:
// a narrow interface over the real SDK service so tests can supply a fake.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/handler"
	"forge.design/mediaforge/hashing"
)

// ChatClient captures the subset of the OpenAI SDK used here. It is
// satisfied by a real client's Chat.Completions service.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// Options configures the handler.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Handler dispatches media-producer jobs whose provider is "openai".
type Handler struct {
	chat         ChatClient
	defaultModel string
}

// New constructs a Handler. opts.Client and opts.DefaultModel are required.
func New(opts Options) (*Handler, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("openai: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, fmt.Errorf("openai: default model is required")
	}
	return &Handler{chat: opts.Client, defaultModel: opts.DefaultModel}, nil
}

// Invoke implements handler.Handler.
func (h *Handler) Invoke(ctx context.Context, jobCtx handler.ProviderJobContext) (handler.ProviderResponse, error) {
	prompt, ok := jobCtx.ResolvedInputs.Inputs["Prompt"]
	if !ok || prompt.Value == nil {
		return handler.ProviderResponse{}, engineerr.New(engineerr.MissingRequiredInput, "job %s: openai handler requires a Prompt input", jobCtx.JobID)
	}
	text, ok := prompt.Value.(string)
	if !ok {
		return handler.ProviderResponse{}, engineerr.New(engineerr.UserInput, "job %s: Prompt input must be a string", jobCtx.JobID)
	}

	modelID := jobCtx.Model
	if modelID == "" {
		modelID = h.defaultModel
	}

	completion, err := h.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: modelID,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return handler.ProviderResponse{}, engineerr.Wrap(engineerr.ProviderTransient, err, "openai: chat completion failed for job %s", jobCtx.JobID)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return handler.ProviderResponse{}, engineerr.New(engineerr.ProviderPermanent, "openai: job %s produced no content", jobCtx.JobID)
	}
	if len(jobCtx.Produces) == 0 {
		return handler.ProviderResponse{}, engineerr.New(engineerr.UserInput, "job %s declares no outputs", jobCtx.JobID)
	}

	out := completion.Choices[0].Message.Content
	return handler.ProviderResponse{
		Status: eventlog.StatusSucceeded,
		Artefacts: []handler.ArtefactResult{
			{ArtefactID: jobCtx.Produces[0], Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: out}},
		},
	}, nil
}
