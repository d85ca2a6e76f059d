package openai

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/samber/lo"

	"github.com/atlas-go/atlas/llm"
)

// toMessages converts neutral messages into OpenAI chat messages. Tool
// results become dedicated tool-role messages keyed by call ID, so one
// neutral message can expand into several chat messages.
func toMessages(msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	var result []openai.ChatCompletionMessage
	for _, msg := range msgs {
		expanded, err := toMessage(msg)
		if err != nil {
			return nil, err
		}
		result = append(result, expanded...)
	}
	return result, nil
}

func toMessage(msg llm.Message) ([]openai.ChatCompletionMessage, error) {
	role := openai.ChatMessageRoleUser
	if msg.Role == llm.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	} else if msg.Role == llm.RoleSystem {
		role = openai.ChatMessageRoleSystem
	}

	var text string
	var images []*llm.ImageBlock
	var toolCalls []openai.ToolCall
	var toolResults []openai.ChatCompletionMessage

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if text != "" {
				text += "\n"
			}
			text += block.Text
		case llm.ContentBlockTypeImage:
			if block.Image != nil {
				images = append(images, block.Image)
			}
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse == nil {
				continue
			}
			args, err := json.Marshal(block.ToolUse.Input)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool input: %w", err)
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ToolUse.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.ToolUse.Name,
					Arguments: string(args),
				},
			})
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				toolResults = append(toolResults, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.ToolResult.Content,
					ToolCallID: block.ToolResult.ID,
				})
			}
		}
	}

	var result []openai.ChatCompletionMessage
	switch {
	case len(toolCalls) > 0:
		result = append(result, openai.ChatCompletionMessage{
			Role:      role,
			Content:   text,
			ToolCalls: toolCalls,
		})
	case len(images) > 0:
		result = append(result, multiContentMessage(role, text, images))
	case text != "" || len(toolResults) == 0:
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return append(result, toolResults...), nil
}

// multiContentMessage builds a multi-part message carrying text plus image
// attachments.
func multiContentMessage(role, text string, images []*llm.ImageBlock) openai.ChatCompletionMessage {
	parts := []openai.ChatMessagePart{}
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: text,
		})
	}
	for _, img := range images {
		url := img.URL
		if url == "" {
			url = "data:" + img.MIMEType + ";base64," + img.Data
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: url},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

func toTools(specs []llm.ToolSpec) []openai.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) openai.Tool {
		parameters := map[string]interface{}{
			"type":       spec.Schema.Type,
			"properties": spec.Schema.Properties,
		}
		if len(spec.Schema.Required) > 0 {
			parameters["required"] = spec.Schema.Required
		}
		for k, v := range spec.Schema.ExtraFields {
			parameters[k] = v
		}
		return openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  parameters,
			},
		}
	})
}

// fromToolCall parses an OpenAI tool call into a neutral tool use block.
// Unparseable arguments degrade to an empty input.
func fromToolCall(toolCall openai.ToolCall) *llm.ToolUseBlock {
	input := make(map[string]interface{})
	if toolCall.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &input); err != nil {
			input = make(map[string]interface{})
		}
	}
	return &llm.ToolUseBlock{
		ID:    toolCall.ID,
		Name:  toolCall.Function.Name,
		Input: input,
	}
}
