package ollama

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"

	"github.com/atlas-go/atlas/llm"
)

// toMessages converts neutral messages into Ollama chat messages. Tool
// results become "tool" role messages; image attachments decode into the
// message's raw image list.
func toMessages(msgs []llm.Message) ([]api.Message, error) {
	var result []api.Message
	for _, msg := range msgs {
		expanded, err := toMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, expanded...)
	}
	return result, nil
}

func toMessage(msg llm.Message) ([]api.Message, error) {
	var content string
	var images []api.ImageData
	var toolCalls []api.ToolCall
	var toolResults []api.Message

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if content != "" {
				content += "\n"
			}
			content += block.Text
		case llm.ContentBlockTypeImage:
			if block.Image == nil {
				continue
			}
			if block.Image.Data == "" {
				return nil, fmt.Errorf("ollama image attachments require base64 data")
			}
			raw, err := base64.StdEncoding.DecodeString(block.Image.Data)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 image data: %w", err)
			}
			images = append(images, api.ImageData(raw))
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse == nil {
				continue
			}
			args := make(api.ToolCallFunctionArguments, len(block.ToolUse.Input))
			for k, v := range block.ToolUse.Input {
				args[k] = v
			}
			toolCalls = append(toolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      block.ToolUse.Name,
					Arguments: args,
				},
			})
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				toolResults = append(toolResults, api.Message{
					Role:    "tool",
					Content: block.ToolResult.Content,
				})
			}
		}
	}

	var result []api.Message
	if content != "" || len(images) > 0 || len(toolCalls) > 0 || len(toolResults) == 0 {
		result = append(result, api.Message{
			Role:      string(msg.Role),
			Content:   content,
			Images:    images,
			ToolCalls: toolCalls,
		})
	}
	return append(result, toolResults...), nil
}

func toTools(specs []llm.ToolSpec) []api.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) api.Tool {
		properties := make(map[string]api.ToolProperty)
		for name, v := range spec.Schema.Properties {
			prop := api.ToolProperty{Type: []string{"string"}}
			if propMap, ok := v.(map[string]interface{}); ok {
				if propType, ok := propMap["type"].(string); ok {
					prop.Type = []string{propType}
				}
				if desc, ok := propMap["description"].(string); ok {
					prop.Description = desc
				}
			}
			properties[name] = prop
		}

		return api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       spec.Schema.Type,
					Properties: properties,
					Required:   spec.Schema.Required,
				},
			},
		}
	})
}

// fromToolCall converts an Ollama tool call into a neutral tool use block.
// Ollama assigns no call IDs, so one is generated.
func fromToolCall(toolCall api.ToolCall) *llm.ToolUseBlock {
	input := make(map[string]interface{}, len(toolCall.Function.Arguments))
	for k, v := range toolCall.Function.Arguments {
		input[k] = v
	}
	return &llm.ToolUseBlock{
		ID:    "call_" + uuid.NewString(),
		Name:  toolCall.Function.Name,
		Input: input,
	}
}
