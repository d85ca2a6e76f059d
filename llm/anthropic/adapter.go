package anthropic

import (
	"encoding/json"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/samber/lo"

	"github.com/atlas-go/atlas/llm"
)

// toMessageParams converts neutral messages into Anthropic message params.
func toMessageParams(msgs []llm.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		param, err := toMessageParam(msg)
		if err != nil {
			return nil, err
		}
		result = append(result, param)
	}
	return result, nil
}

func toMessageParam(msg llm.Message) (anthropic.MessageParam, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			blocks = append(blocks, anthropic.NewTextBlock(block.Text))
		case llm.ContentBlockTypeImage:
			if block.Image == nil {
				continue
			}
			img, err := toImageBlock(block.Image)
			if err != nil {
				return anthropic.MessageParam{}, err
			}
			blocks = append(blocks, img)
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(
					block.ToolUse.ID,
					block.ToolUse.Input,
					block.ToolUse.Name,
				))
			}
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				blocks = append(blocks, anthropic.NewToolResultBlock(
					block.ToolResult.ID,
					block.ToolResult.Content,
					block.ToolResult.IsError,
				))
			}
		}
	}

	if msg.Role == llm.RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...), nil
	}
	return anthropic.NewUserMessage(blocks...), nil
}

func toImageBlock(img *llm.ImageBlock) (anthropic.ContentBlockParamUnion, error) {
	switch {
	case img.Data != "":
		return anthropic.NewImageBlockBase64(img.MIMEType, img.Data), nil
	case img.URL != "":
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: img.URL}), nil
	default:
		return anthropic.ContentBlockParamUnion{}, fmt.Errorf("image attachment requires data or url")
	}
}

// fromContentBlocks converts Anthropic response blocks into neutral blocks.
func fromContentBlocks(blocks []anthropic.ContentBlockUnion) []llm.ContentBlock {
	content := make([]llm.ContentBlock, 0, len(blocks))
	for _, blockUnion := range blocks {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, llm.ContentBlock{
				Type: llm.ContentBlockTypeText,
				Text: block.Text,
			})
		case anthropic.ToolUseBlock:
			content = append(content, llm.ContentBlock{
				Type: llm.ContentBlockTypeToolUse,
				ToolUse: &llm.ToolUseBlock{
					ID:    block.ID,
					Name:  block.Name,
					Input: decodeToolInput(block.Input),
				},
			})
		}
	}
	return content
}

// decodeToolInput round-trips the SDK's raw input into a plain map. A bad
// payload degrades to an empty input rather than failing the response.
func decodeToolInput(raw any) map[string]interface{} {
	input := make(map[string]interface{})
	if raw == nil {
		return input
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return input
	}
	if err := json.Unmarshal(b, &input); err != nil {
		return map[string]interface{}{}
	}
	return input
}

func toToolParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) anthropic.ToolUnionParam {
		return anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:        "object",
				Properties:  spec.Schema.Properties,
				Required:    spec.Schema.Required,
				ExtraFields: spec.Schema.ExtraFields,
			},
		}}
	})
}
