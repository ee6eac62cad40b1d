// Package unifiedllm provides a provider-agnostic LLM client that wraps the
// gollm library (github.com/teilomillet/gollm).
//
// # Architecture
//
//   - ProviderAdapter and the shared message types describe a completion call.
//   - Client routes requests to a registered adapter by provider name, falling
//     back to the default provider and then to the model catalog.
//   - Middleware wraps every call; RetryMiddleware, MetricsMiddleware, and
//     TracingMiddleware ship with the package.
//
// Using the Client:
//
//	adapter, _ := unifiedllm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"),
//	    unifiedllm.WithModel("o4-mini"))
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(unifiedllm.DefaultRetryPolicy())),
//	)
//
//	resp, _ := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "o4-mini",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	    ToolDefs: defs,
//	})
//
// # GollmAdapter
//
// gollm accepts a single prompt per call. The adapter renders system messages
// as the system prompt and the rest of the transcript, including earlier tool
// calls and their results, as labelled sections. Tool calls are parsed back
// out of the generated text.
//
// # Token counting
//
// TokenCounter implementations count prompt and completion tokens.
// TiktokenCounter uses the model's BPE encoding; EstimateCounter needs no
// tables and assumes four characters per token.
package unifiedllm
