// Package provideradapter implements dispatcher.ModelAdapter against real
// model provider SDKs. Unlike the teacher's streaming multi-provider router,
// these adapters issue a single non-streaming Messages.New/CreateChatCompletion
// call per dispatcher iteration, matching the dispatcher's simpler
// call-then-inspect-tool-calls contract.
package provideradapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nexuscore/runtime/internal/dispatcher"
	"github.com/nexuscore/runtime/internal/toolregistry"
	"github.com/nexuscore/runtime/pkg/models"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Tools     *toolregistry.Registry
}

// Anthropic is a dispatcher.ModelAdapter backed by the Claude Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	tools     *toolregistry.Registry
}

// NewAnthropic builds an Anthropic adapter. Tools, if set, are advertised on
// every call so the model can emit tool_use blocks the dispatcher resolves
// against the same registry.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provideradapter: anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		tools:     cfg.Tools,
	}, nil
}

// Call implements dispatcher.ModelAdapter.
// Name reports the configured model string.
func (a *Anthropic) Name() string { return a.model }

func (a *Anthropic) Call(ctx context.Context, messages []models.Message) (dispatcher.ModelResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
	}

	var conversation []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			if m.Content != "" {
				params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
			}
		case models.RoleUser:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			blocks := encodeAssistantBlocks(m)
			if len(blocks) > 0 {
				conversation = append(conversation, anthropic.NewAssistantMessage(blocks...))
			}
		case models.RoleTool:
			blocks := encodeToolResultBlocks(m)
			if len(blocks) > 0 {
				conversation = append(conversation, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	if len(conversation) == 0 {
		return dispatcher.ModelResponse{}, errors.New("provideradapter: at least one user/assistant message is required")
	}
	params.Messages = conversation

	if a.tools != nil {
		for _, t := range a.tools.List("") {
			var schema anthropic.ToolInputSchemaParam
			if err := json.Unmarshal(t.InputSchema(), &schema); err != nil {
				return dispatcher.ModelResponse{}, fmt.Errorf("provideradapter: invalid tool schema for %s: %w", t.Name(), err)
			}
			toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name())
			if toolParam.OfTool == nil {
				return dispatcher.ModelResponse{}, fmt.Errorf("provideradapter: invalid tool schema for %s", t.Name())
			}
			toolParam.OfTool.Description = anthropic.String(t.Description())
			params.Tools = append(params.Tools, toolParam)
		}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return dispatcher.ModelResponse{}, fmt.Errorf("provideradapter: anthropic messages.new: %w", err)
	}
	return translateAnthropicResponse(msg), nil
}

func encodeAssistantBlocks(m models.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	for _, tc := range m.ToolCalls {
		var input any
		_ = json.Unmarshal(tc.Input, &input)
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}
	return blocks
}

func encodeToolResultBlocks(m models.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, tr := range m.ToolResults {
		blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
	}
	return blocks
}

func translateAnthropicResponse(msg *anthropic.Message) dispatcher.ModelResponse {
	var resp dispatcher.ModelResponse
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			input, _ := json.Marshal(block.Input)
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	return resp
}
