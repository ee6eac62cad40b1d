package unifiedllm

import "context"

// ProviderAdapter turns a Request into a single blocking completion against
// one backend.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold connections.
type Closer interface {
	Close() error
}
