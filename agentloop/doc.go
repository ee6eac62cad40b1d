// Package agentloop drives a language model through a tool-calling control
// loop until it produces a final answer or a guard stops it.
//
// The loop uses the unifiedllm package's low-level Client.Complete() method
// through the Model interface and implements its own state machine:
//
//	AWAITING_MODEL -> EXPLAINING -> DISPATCHING -> AWAITING_MODEL ...
//	              \-> TERMINATED               \-> TERMINATED
//
// # Architecture
//
//   - Loop: holds the model, the ToolRegistry, and observability hooks. Each
//     Run owns a fresh Transcript, ActionLedger, and Scratchpad.
//   - Transcript: append-only messages. Requests answered by placeholder are
//     tracked in a marker set keyed by message id.
//   - ToolRegistry: name-keyed Tool implementations built at startup. The
//     TERMINATE sentinel is reserved and handled by the loop.
//   - EventEmitter: typed event stream for host application integration.
//
// # Guards
//
// A tool name may succeed at most once per run; a second request for it ends
// the run with OutcomeRepeatedToolCall. The TERMINATE sentinel ends the run
// immediately. Requests left behind in a short-circuited batch receive
// placeholder results so every request has exactly one correlated result.
//
// # Quick Start
//
//	reg := agentloop.NewToolRegistry()
//	_ = reg.Register(agentloop.NewTool(spec, fn))
//	loop := agentloop.NewLoop(agentloop.NewLLMModel(client, cfg), reg)
//	result, err := loop.Run(ctx, systemPrompt, userRequest, 33)
package agentloop
