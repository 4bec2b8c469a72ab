// Package anthropic is a Handler backed by the Anthropic Claude Messages
// API, adapted from the same client-wrapping shape as the agentic Anthropic
// adapter this module was built from: a narrow MessagesClient interface
// satisfied by the real SDK client, so tests can supply a fake.
package anthropic

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/handler"
	"forge.design/mediaforge/hashing"
)

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the handler.
type Options struct {
	Client       MessagesClient
	DefaultModel string
	MaxTokens    int
}

// Handler dispatches media-producer jobs whose provider is "anthropic": a
// single prompt input produces a single inline text artefact.
type Handler struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// New constructs a Handler. opts.Client and opts.DefaultModel are required.
func New(opts Options) (*Handler, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("anthropic: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, fmt.Errorf("anthropic: default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Handler{msg: opts.Client, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// Invoke implements handler.Handler. The job's "Prompt" logical input
// becomes the sole user message; the first produced artefact id receives
// the model's text output inlined.
func (h *Handler) Invoke(ctx context.Context, jobCtx handler.ProviderJobContext) (handler.ProviderResponse, error) {
	prompt, ok := jobCtx.ResolvedInputs.Inputs["Prompt"]
	if !ok || prompt.Value == nil {
		return handler.ProviderResponse{}, engineerr.New(engineerr.MissingRequiredInput, "job %s: anthropic handler requires a Prompt input", jobCtx.JobID)
	}
	text, ok := prompt.Value.(string)
	if !ok {
		return handler.ProviderResponse{}, engineerr.New(engineerr.UserInput, "job %s: Prompt input must be a string", jobCtx.JobID)
	}

	modelID := jobCtx.Model
	if modelID == "" {
		modelID = h.defaultModel
	}

	msg, err := h.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(h.maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(text)),
		},
	})
	if err != nil {
		return handler.ProviderResponse{}, engineerr.Wrap(engineerr.ProviderTransient, err, "anthropic: message create failed for job %s", jobCtx.JobID)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	if out == "" {
		return handler.ProviderResponse{}, engineerr.New(engineerr.ProviderPermanent, "anthropic: job %s produced no text content", jobCtx.JobID)
	}

	if len(jobCtx.Produces) == 0 {
		return handler.ProviderResponse{}, engineerr.New(engineerr.UserInput, "job %s declares no outputs", jobCtx.JobID)
	}

	return handler.ProviderResponse{
		Status: eventlog.StatusSucceeded,
		Artefacts: []handler.ArtefactResult{
			{ArtefactID: jobCtx.Produces[0], Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: out}},
		},
	}, nil
}
