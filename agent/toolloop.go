package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/atlas-go/atlas/llm"
	"github.com/atlas-go/atlas/pipeline"
	"github.com/atlas-go/atlas/tools"
)

const (
	// maxToolIterations bounds the number of provider round-trips in one
	// turn. A model stuck requesting tools forever is a bug, not a
	// conversation.
	maxToolIterations = 20

	// maxRepeatedToolFailures aborts the turn when the same tool call with
	// the same input keeps failing.
	maxRepeatedToolFailures = 3
)

// toolCallKey identifies a repeated tool call for failure tracking.
type toolCallKey struct {
	name  string
	input string
}

// runToolLoop drives the provider conversation until the model stops
// requesting tools. Each iteration appends the assistant's tool requests and
// the corresponding results to the history before calling the provider
// again. Usage is accumulated across iterations onto the final response.
func (e *Executor) runToolLoop(ctx context.Context, client llm.Client, req *llm.Request, ag Agent, execCtx Context, cb StreamCallback) (*llm.Response, error) {
	history := req.Messages
	totalUsage := &llm.Usage{}
	failures := make(map[toolCallKey]int)

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		current := req.Clone()
		current.Messages = history

		var resp *llm.Response
		var err error
		if cb == nil {
			resp, err = client.Synchronous(ctx, current)
		} else {
			resp, err = e.collectStream(ctx, client, current, cb)
		}
		if err != nil {
			return nil, err
		}
		totalUsage.Add(resp.Usage)

		toolCalls := resp.ToolCalls()
		if len(toolCalls) == 0 {
			resp.Usage = totalUsage
			return resp, nil
		}

		e.logger.Debug().
			Str("agentKey", ag.Key()).
			Int("iteration", iteration+1).
			Int("toolCalls", len(toolCalls)).
			Msg("Model requested tool calls")

		results := make([]*llm.ToolResultBlock, 0, len(toolCalls))
		for _, call := range toolCalls {
			result, callErr := e.executeToolCall(ctx, ag, execCtx, call, failures)
			if callErr != nil {
				return nil, callErr
			}
			results = append(results, result)
		}

		// Providers reject duplicate tool_result IDs; keep the first.
		seen := make(map[string]bool)
		resultBlocks := lo.FilterMap(results, func(r *llm.ToolResultBlock, _ int) (llm.ContentBlock, bool) {
			if seen[r.ID] {
				return llm.ContentBlock{}, false
			}
			seen[r.ID] = true
			return llm.ContentBlock{Type: llm.ContentBlockTypeToolResult, ToolResult: r}, true
		})

		history = append(history,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.Message{Role: llm.RoleUser, Content: resultBlocks},
		)
	}

	return nil, fmt.Errorf("tool loop exceeded %d iterations for agent %s", maxToolIterations, ag.Key())
}

// executeToolCall dispatches one tool call through the tool hooks. A failed
// call is fed back to the model as an error result so it can adjust; the
// turn aborts only when a hook errors, a handler sets the abort key, or the
// same call keeps failing.
func (e *Executor) executeToolCall(ctx context.Context, ag Agent, execCtx Context, call *llm.ToolUseBlock, failures map[toolCallKey]int) (*llm.ToolResultBlock, error) {
	args, err := json.Marshal(call.Input)
	if err != nil {
		args = []byte("{}")
	}

	callID := call.ID
	if callID == "" {
		callID = uuid.NewString()
	}
	tc := &tools.Context{
		AgentKey: ag.Key(),
		CallID:   callID,
		ThreadID: execCtx.ThreadID(),
		Metadata: execCtx.Metadata(),
	}

	bag := pipeline.Bag{
		BagAgent:    ag,
		BagContext:  execCtx,
		BagTool:     call.Name,
		BagToolArgs: json.RawMessage(args),
	}
	if err := e.hook(ctx, HookToolBeforeExecute, bag, execCtx); err != nil {
		return nil, &ToolError{Tool: call.Name, Err: err}
	}
	if rewritten, ok := bag[BagToolArgs].(json.RawMessage); ok {
		args = rewritten
	}

	result, callErr := e.toolRegistry.Execute(ctx, call.Name, args, tc)
	key := toolCallKey{name: call.Name, input: string(args)}

	if callErr != nil {
		failures[key]++
		if failures[key] >= maxRepeatedToolFailures {
			return nil, &ToolError{
				Tool: call.Name,
				Err:  fmt.Errorf("failed %d times with identical input: %w", failures[key], callErr),
			}
		}

		result, callErr = e.recoverToolCall(ctx, ag, execCtx, call.Name, args, callErr)
		if callErr != nil {
			return nil, callErr
		}
	} else {
		delete(failures, key)
	}

	bag = pipeline.Bag{
		BagAgent:      ag,
		BagContext:    execCtx,
		BagTool:       call.Name,
		BagToolResult: result,
	}
	if err := e.hook(ctx, HookToolAfterExecute, bag, execCtx); err != nil {
		return nil, &ToolError{Tool: call.Name, Err: err}
	}
	if r, ok := bag[BagToolResult].(*tools.Result); ok && r != nil {
		result = r
	}

	return &llm.ToolResultBlock{ID: callID, Content: result.Text, IsError: result.IsError}, nil
}

// recoverToolCall runs the tool error pipeline. It always runs, active or
// not. A handler may supply a typed replacement result or set the abort key;
// otherwise the error text goes back to the model as an error result.
func (e *Executor) recoverToolCall(ctx context.Context, ag Agent, execCtx Context, name string, args json.RawMessage, cause error) (*tools.Result, error) {
	e.logger.Warn().Str("tool", name).Str("agentKey", ag.Key()).Err(cause).Msg("Tool call failed; running tool error pipeline")

	bag := pipeline.Bag{
		BagAgent:    ag,
		BagContext:  execCtx,
		BagTool:     name,
		BagToolArgs: args,
		BagError:    cause,
	}
	if pipeErr := e.runner.RunWith(ctx, HookToolOnError, bag, execCtx.Middleware(HookToolOnError), nil); pipeErr != nil {
		e.logger.Warn().Err(pipeErr).Msg("Tool error pipeline itself failed")
	}

	if bag.Bool(BagAbort) {
		return nil, &ToolError{Tool: name, Err: cause}
	}
	if recovery, ok := bag[BagRecovery].(*tools.Result); ok && recovery != nil {
		return recovery, nil
	}
	return tools.ErrorResult(cause.Error()), nil
}

// collectStream consumes a provider stream, forwarding text deltas to cb and
// assembling the accumulated events into a complete response.
func (e *Executor) collectStream(ctx context.Context, client llm.Client, req *llm.Request, cb StreamCallback) (*llm.Response, error) {
	stream, err := client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var text strings.Builder
	var usage *llm.Usage
	toolUses := make(map[string]*llm.ToolUseBlock)
	toolInputs := make(map[string]*strings.Builder)
	var toolOrder []string
	var currentToolID string

	for stream.Next() {
		event := stream.Event()
		if event == nil {
			continue
		}
		if event.Usage != nil {
			if usage == nil {
				usage = &llm.Usage{}
			}
			usage.Add(event.Usage)
		}
		if event.Delta == nil {
			continue
		}

		switch event.Delta.Type {
		case llm.StreamDeltaTypeText:
			text.WriteString(event.Delta.Text)
			if cb != nil {
				if err := cb(event.Delta.Text); err != nil {
					return nil, fmt.Errorf("stream callback failed: %w", err)
				}
			}
		case llm.StreamDeltaTypeToolUse:
			if tu := event.Delta.ToolUse; tu != nil {
				toolUses[tu.ID] = tu
				toolInputs[tu.ID] = &strings.Builder{}
				toolOrder = append(toolOrder, tu.ID)
				currentToolID = tu.ID
			}
		case llm.StreamDeltaTypeToolInput:
			if sb, ok := toolInputs[currentToolID]; ok {
				sb.WriteString(event.Delta.ToolInput)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	var content []llm.ContentBlock
	if text.Len() > 0 {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: text.String()})
	}
	for _, id := range toolOrder {
		tu := toolUses[id]
		if raw := toolInputs[id].String(); raw != "" {
			var input map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &input); err == nil {
				tu.Input = input
			}
		}
		if tu.Input == nil {
			tu.Input = map[string]interface{}{}
		}
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeToolUse, ToolUse: tu})
	}

	finish := llm.FinishReasonStop
	if len(toolOrder) > 0 {
		finish = llm.FinishReasonToolUse
	}
	return &llm.Response{Content: content, Usage: usage, FinishReason: finish}, nil
}
