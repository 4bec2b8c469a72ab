// Package bedrock is a Handler backed by the AWS Bedrock Converse API,
// following the same client-wrapping shape as the other provider handlers
// here: an interface matching *bedrockruntime.Client's
// Converse method so callers can supply a fake in tests.
package bedrock

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/handler"
	"forge.design/mediaforge/hashing"
)

// RuntimeClient captures the subset of the Bedrock runtime client used
// here. It matches *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the handler.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
}

// Handler dispatches media-producer jobs whose provider is "bedrock".
type Handler struct {
	runtime      RuntimeClient
	defaultModel string
}

// New constructs a Handler. opts.Runtime and opts.DefaultModel are required.
func New(opts Options) (*Handler, error) {
	if opts.Runtime == nil {
		return nil, fmt.Errorf("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, fmt.Errorf("bedrock: default model is required")
	}
	return &Handler{runtime: opts.Runtime, defaultModel: opts.DefaultModel}, nil
}

// Invoke implements handler.Handler.
func (h *Handler) Invoke(ctx context.Context, jobCtx handler.ProviderJobContext) (handler.ProviderResponse, error) {
	prompt, ok := jobCtx.ResolvedInputs.Inputs["Prompt"]
	if !ok || prompt.Value == nil {
		return handler.ProviderResponse{}, engineerr.New(engineerr.MissingRequiredInput, "job %s: bedrock handler requires a Prompt input", jobCtx.JobID)
	}
	text, ok := prompt.Value.(string)
	if !ok {
		return handler.ProviderResponse{}, engineerr.New(engineerr.UserInput, "job %s: Prompt input must be a string", jobCtx.JobID)
	}

	modelID := jobCtx.Model
	if modelID == "" {
		modelID = h.defaultModel
	}

	out, err := h.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
	})
	if err != nil {
		return handler.ProviderResponse{}, engineerr.Wrap(engineerr.ProviderTransient, err, "bedrock: converse failed for job %s", jobCtx.JobID)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return handler.ProviderResponse{}, engineerr.New(engineerr.ProviderPermanent, "bedrock: job %s produced no message output", jobCtx.JobID)
	}
	var text2 string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text2 += tb.Value
		}
	}
	if text2 == "" {
		return handler.ProviderResponse{}, engineerr.New(engineerr.ProviderPermanent, "bedrock: job %s produced no text content", jobCtx.JobID)
	}
	if len(jobCtx.Produces) == 0 {
		return handler.ProviderResponse{}, engineerr.New(engineerr.UserInput, "job %s declares no outputs", jobCtx.JobID)
	}

	return handler.ProviderResponse{
		Status: eventlog.StatusSucceeded,
		Artefacts: []handler.ArtefactResult{
			{ArtefactID: jobCtx.Produces[0], Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: text2}},
		},
	}, nil
}
