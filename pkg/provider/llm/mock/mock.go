// Package mock provides an in-memory test double for the llm interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/verbatim-labs/verbatim/pkg/provider/llm"
)

// Compile-time check that *Provider satisfies the llm interface.
var _ llm.Provider = (*Provider)(nil)

// Provider is a configurable test double for [llm.Provider].
type Provider struct {
	mu sync.Mutex

	// CompleteResult is returned by Complete. Defaults to an empty response.
	CompleteResult *llm.CompletionResponse

	// CompleteErr is returned by Complete when non-nil.
	CompleteErr error

	// requests records every request passed to Complete.
	requests []llm.CompletionRequest
}

// Requests returns a copy of every request passed to Complete.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount returns how many times Complete was invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResult != nil {
		return p.CompleteResult, nil
	}
	return &llm.CompletionResponse{}, nil
}
