package questions

import (
	"context"
	"log"

	"github.com/google/uuid"

	"prepq-backend/llm"
	"prepq-backend/metrics"
)

// Generation kinds. Document runs get the higher count ceiling and their
// own metrics label.
const (
	KindPrompt   = "prompt"
	KindDocument = "document"
)

// State tracks an invocation through its lifecycle. Transitions are
// logged with the invocation id so stuck or failed runs can be traced.
type State string

const (
	StateIdle             State = "idle"
	StateBuildingPrompt   State = "building_prompt"
	StateAwaitingResponse State = "awaiting_response"
	StateParsing          State = "parsing"
	StateComplete         State = "complete"
	StateFailed           State = "failed"
)

// GenRequest is one generation run. Excerpt carries extracted document
// text; Document carries the raw file for models that accept attachments,
// used when no text layer could be extracted.
type GenRequest struct {
	Params   Params
	Excerpt  string
	Document *llm.Document
	Kind     string
}

// Pipeline drives a request through prompt building, the model call and
// parsing. It does no credit accounting; callers debit before Run.
type Pipeline struct {
	provider llm.Provider
}

func NewPipeline(provider llm.Provider) *Pipeline {
	return &Pipeline{provider: provider}
}

const sampleTemperature = 0.7

// Run executes one invocation. There are no retries: a failed run is
// terminal and nothing from it may be persisted. A context cancelled
// while the model call was in flight fails the run even if a late
// response arrived.
func (p *Pipeline) Run(ctx context.Context, req GenRequest) (*Batch, error) {
	id := uuid.NewString()

	req.Params.Count = ClampCount(req.Params.Count, req.Kind == KindDocument)
	log.Printf("[questions][pipeline] id=%s state=%s kind=%s count=%d", id, StateBuildingPrompt, req.Kind, req.Params.Count)
	prompt := BuildPrompt(req.Params, req.Excerpt)

	budget := TokenBudget(req.Params.Count)
	log.Printf("[questions][pipeline] id=%s state=%s model=%s budget=%d", id, StateAwaitingResponse, p.provider.ModelID(), budget)
	resp, err := p.provider.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Document:    req.Document,
		MaxTokens:   budget,
		Temperature: sampleTemperature,
	})
	if err != nil {
		log.Printf("[questions][pipeline] id=%s state=%s reason=upstream err=%v", id, StateFailed, err)
		metrics.Generations.WithLabelValues(req.Kind, "upstream_error").Inc()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		// Caller is gone; the late response must not be applied.
		log.Printf("[questions][pipeline] id=%s state=%s reason=cancelled", id, StateFailed)
		metrics.Generations.WithLabelValues(req.Kind, "cancelled").Inc()
		return nil, err
	}

	log.Printf("[questions][pipeline] id=%s state=%s response_len=%d", id, StateParsing, len(resp.Text))
	batch, err := Parse(resp.Text)
	if err != nil {
		log.Printf("[questions][pipeline] id=%s state=%s reason=unparsable", id, StateFailed)
		metrics.Generations.WithLabelValues(req.Kind, "unparsable").Inc()
		return nil, err
	}

	log.Printf("[questions][pipeline] id=%s state=%s stage=%s questions=%d warnings=%d completion_tokens=%d",
		id, StateComplete, batch.Stage, len(batch.Questions), len(batch.Warnings), resp.Usage.CompletionTokens)
	metrics.Generations.WithLabelValues(req.Kind, "ok").Inc()
	return batch, nil
}
