package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type chatCompletionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIAnalysisClient implements AnalysisClient against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIAnalysisClient struct {
	api   chatCompletionAPI
	model string
}

// NewOpenAIAnalysisClient builds a client for the given API key and model.
// baseURL may be empty for the default endpoint.
func NewOpenAIAnalysisClient(apiKey, baseURL, model string) (*OpenAIAnalysisClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: openai api key required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("llm: openai model required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIAnalysisClient{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}, nil
}

func (c *OpenAIAnalysisClient) AnalyzeThreats(ctx context.Context, req Request) (ThreatJudgement, error) {
	raw, err := c.complete(ctx, threatSystemPrompt, buildUserPrompt(req))
	if err != nil {
		return ThreatJudgement{}, err
	}
	var judgement ThreatJudgement
	if err := decodeJSONBlock(raw, &judgement); err != nil {
		return ThreatJudgement{}, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	return judgement, nil
}

func (c *OpenAIAnalysisClient) ExtractScopeChanges(ctx context.Context, req Request) ([]ScopeFinding, error) {
	raw, err := c.complete(ctx, scopeSystemPrompt, buildUserPrompt(req))
	if err != nil {
		return nil, err
	}
	var envelope scopeEnvelope
	if err := decodeJSONBlock(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	return envelope.Changes, nil
}

func (c *OpenAIAnalysisClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", ErrAnalysisUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrAnalysisUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}
