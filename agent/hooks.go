package agent

import (
	"github.com/atlas-go/atlas/pipeline"
)

// Hook names exposed by the executor. Callers register handlers against
// these names on the pipeline registry, or attach per-request middleware to
// an execution context.
const (
	// HookContextValidate runs before anything else; a handler error aborts
	// the execution.
	HookContextValidate = "agent.context.validate"

	// HookBeforeExecute runs before the system prompt is built; handlers may
	// replace the execution context in the bag.
	HookBeforeExecute = "agent.before_execute"

	// HookPromptBeforeBuild runs before template interpolation; handlers may
	// rewrite the raw template.
	HookPromptBeforeBuild = "agent.system_prompt.before_build"

	// HookPromptAfterBuild runs after interpolation; handlers may
	// post-process the rendered prompt.
	HookPromptAfterBuild = "agent.system_prompt.after_build"

	// HookToolsMerged runs after the three tool sources are merged; handlers
	// may filter, add to, or reorder the merged list.
	HookToolsMerged = "agent.tools.merged"

	// HookAfterExecute runs on success with the response in the bag. A
	// handler error here is redirected to HookOnError as if the provider
	// call itself had failed.
	HookAfterExecute = "agent.after_execute"

	// HookOnError runs on any failure between prompt building and
	// after-execute. It always runs, active or not; a handler may supply a
	// typed recovery response.
	HookOnError = "agent.on_error"

	// HookToolBeforeResolve runs before tool definitions are adapted into
	// provider specs.
	HookToolBeforeResolve = "tool.before_resolve"

	// HookToolAfterResolve runs after adaptation, with the specs in the bag.
	HookToolAfterResolve = "tool.after_resolve"

	// HookToolBeforeExecute runs before each tool call in the tool-use loop.
	HookToolBeforeExecute = "tool.before_execute"

	// HookToolAfterExecute runs after each successful tool call; handlers
	// may replace the result.
	HookToolAfterExecute = "tool.after_execute"

	// HookToolOnError runs when a tool call fails. By default the error is
	// fed back to the model as an error result; a handler setting the abort
	// key aborts the whole turn instead.
	HookToolOnError = "tool.on_error"
)

// Bag keys used by the executor's hook pipelines.
const (
	BagAgent    = "agent"    // Agent
	BagInput    = "input"    // string
	BagContext  = "context"  // Context
	BagPrompt   = "prompt"   // string
	BagResponse = "response" // *llm.Response
	BagError    = "error"    // error
	BagRecovery = "recovery" // *llm.Response (agent) / *tools.Result (tool)

	BagAgentTools   = "agent_tools"   // []tools.Tool
	BagMCPTools     = "mcp_tools"     // []tools.Tool
	BagContextTools = "context_tools" // []tools.Tool
	BagMergedTools  = "merged"        // []tools.Tool
	BagToolSpecs    = "specs"         // []llm.ToolSpec

	BagTool       = "tool"   // string (tool name)
	BagToolArgs   = "args"   // json.RawMessage
	BagToolResult = "result" // *tools.Result
	BagAbort      = "abort"  // bool
)

// DefineHooks registers every orchestration hook on a pipeline registry.
// Safe to call repeatedly; existing definitions and runtime state are
// preserved.
func DefineHooks(reg *pipeline.Registry) {
	defs := []pipeline.Definition{
		{Name: HookContextValidate, Description: "Validate the execution context before running", DefaultActive: true},
		{Name: HookBeforeExecute, Description: "Runs before an agent execution starts", DefaultActive: true},
		{Name: HookPromptBeforeBuild, Description: "Runs before the system prompt template is rendered", DefaultActive: true},
		{Name: HookPromptAfterBuild, Description: "Runs after the system prompt is rendered", DefaultActive: true},
		{Name: HookToolsMerged, Description: "Runs after agent, MCP, and context tools are merged", DefaultActive: true},
		{Name: HookAfterExecute, Description: "Runs after a successful provider call", DefaultActive: true},
		{Name: HookOnError, Description: "Runs on execution failure; may supply a recovery response", DefaultActive: true},
		{Name: HookToolBeforeResolve, Description: "Runs before tools are adapted into provider specs", DefaultActive: true},
		{Name: HookToolAfterResolve, Description: "Runs after tools are adapted into provider specs", DefaultActive: true},
		{Name: HookToolBeforeExecute, Description: "Runs before each tool call", DefaultActive: true},
		{Name: HookToolAfterExecute, Description: "Runs after each successful tool call", DefaultActive: true},
		{Name: HookToolOnError, Description: "Runs when a tool call fails; may abort the turn", DefaultActive: true},
	}
	for _, d := range defs {
		reg.Define(d.Name, d.Description, d.DefaultActive)
	}
}
