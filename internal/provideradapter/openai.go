package provideradapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexuscore/runtime/internal/dispatcher"
	"github.com/nexuscore/runtime/internal/toolregistry"
	"github.com/nexuscore/runtime/pkg/models"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey string
	Model  string
	Tools  *toolregistry.Registry
}

// OpenAI is a dispatcher.ModelAdapter backed by the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	model  string
	tools  *toolregistry.Registry
}

// NewOpenAI builds an OpenAI adapter, used as the pack's second example
// model-adapter alongside Anthropic.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provideradapter: openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	return &OpenAI{client: openai.NewClient(cfg.APIKey), model: cfg.Model, tools: cfg.Tools}, nil
}

// Call implements dispatcher.ModelAdapter.
// Name reports the configured model string.
func (a *OpenAI) Name() string { return a.model }

func (a *OpenAI) Call(ctx context.Context, messages []models.Message) (dispatcher.ModelResponse, error) {
	chatMessages, err := convertToOpenAIMessages(messages)
	if err != nil {
		return dispatcher.ModelResponse{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: chatMessages,
	}
	if a.tools != nil {
		for _, t := range a.tools.List("") {
			var params any
			_ = json.Unmarshal(t.InputSchema(), &params)
			req.Tools = append(req.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  params,
				},
			})
		}
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return dispatcher.ModelResponse{}, fmt.Errorf("provideradapter: openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return dispatcher.ModelResponse{}, errors.New("provideradapter: openai returned no choices")
	}
	return translateOpenAIResponse(resp.Choices[0].Message), nil
}

func convertToOpenAIMessages(messages []models.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		default:
			return nil, fmt.Errorf("provideradapter: unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}

func translateOpenAIResponse(msg openai.ChatCompletionMessage) dispatcher.ModelResponse {
	resp := dispatcher.ModelResponse{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return resp
}
