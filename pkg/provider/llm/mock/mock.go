// Package mock provides a scripted [llm.Provider] for pipeline tests.
//
//	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "It is noon."}}
//
// With neither Response, Replies nor Err set the provider echoes the last
// message, which keeps end-to-end tests readable.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider answers from its fields and records every request.
type Provider struct {
	// Response is returned (as a copy) when Replies is empty.
	Response *llm.CompletionResponse

	// Replies are answered in order; the last one repeats.
	Replies []string

	// Err fails every call.
	Err error

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

// Complete implements llm.Provider. A cancelled ctx wins over every scripted
// answer.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if n := len(p.Replies); n > 0 {
		return &llm.CompletionResponse{Content: p.Replies[min(len(p.requests), n)-1]}, nil
	}
	if p.Response != nil {
		resp := *p.Response
		return &resp, nil
	}
	var echo string
	if n := len(req.Messages); n > 0 {
		echo = req.Messages[n-1].Content
	}
	return &llm.CompletionResponse{Content: echo}, nil
}

// Requests returns a copy of every request received so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}

// CallCount returns the number of Complete calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
