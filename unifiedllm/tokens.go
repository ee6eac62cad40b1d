package unifiedllm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts the tokens a model would see for a piece of text.
type TokenCounter interface {
	Count(text string) int
}

// EstimateCounter approximates four characters per token. It needs no
// encoding tables and is the fallback for unknown models.
type EstimateCounter struct{}

// Count returns len(text)/4.
func (EstimateCounter) Count(text string) int {
	return len(text) / 4
}

// fallbackEncoding is used for models tiktoken has no mapping for; the
// o-series and gpt-4o/4.1 families all use it.
const fallbackEncoding = "o200k_base"

// TiktokenCounter counts tokens with the BPE encoding of a model.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
	mu  sync.Mutex
}

// NewTiktokenCounter resolves the encoding for model. The encoding tables
// are fetched on first use and cached by tiktoken-go (see TIKTOKEN_CACHE_DIR).
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("load token encoding for %s: %w", model, err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count encodes text and returns the token count.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns a TiktokenCounter for model, or an EstimateCounter
// when the encoding cannot be loaded.
func NewTokenCounter(model string) TokenCounter {
	c, err := NewTiktokenCounter(model)
	if err != nil {
		return EstimateCounter{}
	}
	return c
}
