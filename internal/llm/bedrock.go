package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockAnalysisClient implements AnalysisClient on the Bedrock Converse API.
type BedrockAnalysisClient struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockAnalysisClient(api bedrockConverseAPI, modelID string) (*BedrockAnalysisClient, error) {
	if api == nil {
		return nil, errors.New("llm: bedrock converse client required")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("llm: bedrock model id required")
	}
	return &BedrockAnalysisClient{api: api, modelID: modelID}, nil
}

func (c *BedrockAnalysisClient) AnalyzeThreats(ctx context.Context, req Request) (ThreatJudgement, error) {
	raw, err := c.converse(ctx, threatSystemPrompt, buildUserPrompt(req))
	if err != nil {
		return ThreatJudgement{}, err
	}
	var judgement ThreatJudgement
	if err := decodeJSONBlock(raw, &judgement); err != nil {
		return ThreatJudgement{}, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	return judgement, nil
}

func (c *BedrockAnalysisClient) ExtractScopeChanges(ctx context.Context, req Request) ([]ScopeFinding, error) {
	raw, err := c.converse(ctx, scopeSystemPrompt, buildUserPrompt(req))
	if err != nil {
		return nil, err
	}
	var envelope scopeEnvelope
	if err := decodeJSONBlock(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	return envelope.Changes, nil
}

func (c *BedrockAnalysisClient) converse(ctx context.Context, system, user string) (string, error) {
	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		System: []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: system},
		},
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: user},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(1024),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: bedrock converse: %v", ErrAnalysisUnavailable, err)
	}

	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", fmt.Errorf("%w: bedrock response did not include a message output", ErrAnalysisUnavailable)
	}

	var builder strings.Builder
	for _, content := range msgOut.Value.Content {
		if text, ok := content.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(text.Value)
		}
	}
	return builder.String(), nil
}
