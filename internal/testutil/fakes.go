package testutil

import (
	"context"
	"sync"

	"github.com/Toobanaz/ai-audience-mentor/internal/llm"
)

// FakeTranscriber returns Responses in call order, then empty strings.
type FakeTranscriber struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	calls     int
	Received  [][]byte
}

func (f *FakeTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.Received = append(f.Received, wav)
	if f.Err != nil {
		return "", f.Err
	}
	if i < len(f.Responses) {
		return f.Responses[i], nil
	}
	return "", nil
}

func (f *FakeTranscriber) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeCompleter answers completions from Fn when set, otherwise from Responses
// in call order. Every request is recorded.
type FakeCompleter struct {
	mu        sync.Mutex
	Responses []string
	Fn        func(llm.Request) (string, error)
	Err       error
	requests  []llm.Request
}

func (f *FakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	fn, err := f.Fn, f.Err
	var resp string
	if i < len(f.Responses) {
		resp = f.Responses[i]
	}
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	if fn != nil {
		return fn(req)
	}
	return resp, nil
}

func (f *FakeCompleter) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

func (f *FakeCompleter) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
