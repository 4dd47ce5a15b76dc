package llm

import "context"

// Provider is a single-shot text generation backend. One Complete call maps
// to exactly one upstream request; the pipeline deliberately never retries.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	ModelID() string
}

// Request describes one generation call.
type Request struct {
	System      string
	Prompt      string
	Document    *Document
	MaxTokens   int
	Temperature float32
}

// Document is an optional attachment delivered inline (base64) to
// vision-capable models.
type Document struct {
	Name string
	MIME string
	Data []byte
}

// Usage reports upstream token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response carries the raw completion text. Providers never interpret
// content; parsing is the caller's job.
type Response struct {
	Text  string
	Usage Usage
}
