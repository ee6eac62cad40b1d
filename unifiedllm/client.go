package unifiedllm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Middleware wraps a provider call. It receives the request and a next function
// that calls the downstream handler, and returns the response.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

type handlerFunc func(context.Context, Request) (*Response, error)

// Client routes completion requests to a registered provider adapter through
// a fixed middleware chain. Providers are fixed at construction.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
	logger          *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers a provider adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider names the provider used when a request has none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithMiddleware adds middleware to the client. The first registered
// middleware is the outermost.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithClientLogger sets the logger used for request routing.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client. With a single provider and no explicit default,
// that provider becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// Providers returns the registered provider names, sorted.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveProvider picks the adapter for req: the explicit provider, then the
// default, then the catalog entry for the model.
func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	name := req.Provider
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			name = info.Provider
		}
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("no provider for model %q and no default provider configured", req.Model),
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends a blocking request through the middleware chain to the
// resolved provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	c.logger.Debug("routing completion",
		slog.String("provider", req.Provider),
		slog.String("model", req.Model),
		slog.Int("messages", len(req.Messages)),
		slog.Int("tools", len(req.ToolDefs)),
	)
	return c.chain(adapter.Complete)(ctx, req)
}

func (c *Client) chain(h handlerFunc) handlerFunc {
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw, next := c.middleware[i], h
		h = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}
	return h
}

// Close releases resources held by the registered providers and returns the
// first failure.
func (c *Client) Close() error {
	var firstErr error
	for _, name := range c.Providers() {
		closer, ok := c.providers[name].(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	return firstErr
}
