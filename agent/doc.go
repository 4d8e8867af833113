// Package agent contains the conversational agent: the aggregate that owns a
// history, a tool registry and a notification bus, and drives a flow to turn
// prompts into replies.
//
// The package focuses on three concerns:
//
//  1. Construction (New) that fails fast: duplicate tools, unreachable MCP
//     servers or invalid response schemas yield a *core.BuildError and no agent
//  2. Invocation (Invoke, InvokeStructured, InvokeWithTemplate) with exactly
//     one FinalMessage notification per call
//  3. Composition (AsTool, Forward) so agents can delegate to nested agents
//
// Execution Model:
//   - One invoke runs at a time per agent; concurrent calls are serialized
//   - The flow (flow.Default unless configured) appends to the history and
//     dispatches tools through the agent's executor
//   - Streaming tokens, tool activity and final replies are published on the
//     bus as they happen
//
// Model specifics, transports and persistence live in their own packages
// (model, mcp, session) to avoid cyclic deps.
package agent
