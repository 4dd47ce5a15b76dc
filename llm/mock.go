package llm

import (
	"context"
	"sync"
)

// MockProvider returns canned responses in FIFO order and records every
// request it sees. Test helper; no network.
type MockProvider struct {
	mu        sync.Mutex
	responses []mockResponse
	Calls     []Request
}

type mockResponse struct {
	text string
	err  error
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

// AddResponse queues a successful completion.
func (m *MockProvider) AddResponse(text string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{text: text})
	return m
}

// AddError queues a failure.
func (m *MockProvider) AddError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if len(m.responses) == 0 {
		return &Response{}, nil
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &Response{Text: next.text}, nil
}

func (m *MockProvider) ModelID() string { return "mock" }

// CallCount reports how many requests reached the provider.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
