package questions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"prepq-backend/llm"
)

func TestPipelineRun_success(t *testing.T) {
	mock := llm.NewMockProvider().AddResponse(canonicalBatch(t, 3))
	p := NewPipeline(mock)

	batch, err := p.Run(context.Background(), GenRequest{
		Params: Params{Subject: "Modern History", Count: 3},
		Kind:   KindPrompt,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(batch.Questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(batch.Questions))
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected exactly one model call, got %d", mock.CallCount())
	}
	call := mock.Calls[0]
	if call.MaxTokens != TokenBudget(3) {
		t.Fatalf("budget=%d, want %d", call.MaxTokens, TokenBudget(3))
	}
	if !strings.Contains(call.Prompt, "exactly 3 multiple-choice questions") {
		t.Fatalf("prompt does not carry the count")
	}
	if call.System == "" {
		t.Fatalf("system prompt missing")
	}
}

func TestPipelineRun_clampsOversizedCount(t *testing.T) {
	mock := llm.NewMockProvider().AddResponse(canonicalBatch(t, 1))
	p := NewPipeline(mock)

	if _, err := p.Run(context.Background(), GenRequest{Params: Params{Count: 500}, Kind: KindPrompt}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(mock.Calls[0].Prompt, "exactly 30 multiple-choice questions") {
		t.Fatalf("prompt count was not clamped to 30")
	}
}

func TestPipelineRun_documentKindGetsHigherCeiling(t *testing.T) {
	mock := llm.NewMockProvider().AddResponse(canonicalBatch(t, 1))
	p := NewPipeline(mock)

	req := GenRequest{
		Params:   Params{Count: 120},
		Excerpt:  "The Quit India movement began in August 1942.",
		Kind:     KindDocument,
		Document: &llm.Document{Name: "notes.pdf", MIME: "application/pdf", Data: []byte("%PDF")},
	}
	if _, err := p.Run(context.Background(), req); err != nil {
		t.Fatalf("run: %v", err)
	}
	call := mock.Calls[0]
	if !strings.Contains(call.Prompt, "exactly 120 multiple-choice questions") {
		t.Fatalf("document count must not be clamped to the prompt ceiling")
	}
	if !strings.Contains(call.Prompt, "Quit India") {
		t.Fatalf("excerpt missing from prompt")
	}
	if call.Document == nil || call.Document.Name != "notes.pdf" {
		t.Fatalf("attachment was not forwarded")
	}
}

func TestPipelineRun_upstreamErrorPropagates(t *testing.T) {
	boom := &llm.UpstreamError{Provider: "mock", Status: 500, Err: errors.New("boom")}
	mock := llm.NewMockProvider().AddError(boom)
	p := NewPipeline(mock)

	_, err := p.Run(context.Background(), GenRequest{Params: Params{Count: 2}, Kind: KindPrompt})
	if !llm.IsUpstream(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestPipelineRun_unparsableResponse(t *testing.T) {
	mock := llm.NewMockProvider().AddResponse("I cannot answer that in the requested format.")
	p := NewPipeline(mock)

	_, err := p.Run(context.Background(), GenRequest{Params: Params{Count: 2}, Kind: KindPrompt})
	if !errors.Is(err, ErrUnparsable) {
		t.Fatalf("expected ErrUnparsable, got %v", err)
	}
}

func TestPipelineRun_cancelledContextDiscardsLateResponse(t *testing.T) {
	mock := llm.NewMockProvider().AddResponse(canonicalBatch(t, 1))
	p := NewPipeline(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx, GenRequest{Params: Params{Count: 1}, Kind: KindPrompt})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
