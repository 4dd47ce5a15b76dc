package summaries

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"prepq-backend/ledger"
	"prepq-backend/llm"
	"prepq-backend/metrics"
)

const (
	maxInputChars = 16000
	tokenBudget   = 1200
	temperature   = 0.4
)

const systemPrompt = "You are an expert mentor for competitive exam preparation. " +
	"You write compact revision summaries that keep every fact a candidate could be tested on."

// Handler exposes the text summarizer, the cheapest metered feature: one
// credit, one model call, plain text back. No parsing pipeline sits behind
// it, which is why it lives outside the questions package.
type Handler struct {
	provider llm.Provider
	gate     *ledger.Gate
	identify ledger.IdentityFunc
}

func NewHandler(provider llm.Provider, gate *ledger.Gate, identify ledger.IdentityFunc) *Handler {
	return &Handler{provider: provider, gate: gate, identify: identify}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/summaries", h.summarize)
}

type summarizeRequest struct {
	Text  string `json:"text"`
	Focus string `json:"focus"`
}

func (h *Handler) summarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "text is required"})
		return
	}
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}

	ident, err := h.identify(c)
	if err != nil {
		ident = ""
	}
	res, err := h.gate.Debit(c.Request.Context(), ident, ledger.FeatureSummary, "text summary")
	if err != nil {
		renderDebitError(c, err)
		return
	}
	if !res.Bypassed {
		c.Header("X-Credits-Remaining", strconv.Itoa(res.Balance))
	}

	resp, err := h.provider.Complete(c.Request.Context(), llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(text, req.Focus),
		MaxTokens:   tokenBudget,
		Temperature: temperature,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		log.Printf("[summaries][handler] op=complete err=%v", err)
		metrics.Generations.WithLabelValues("summary", "upstream_error").Inc()
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable", "message": "the model provider failed to answer"})
		return
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		metrics.Generations.WithLabelValues("summary", "empty").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unparsable_response", "message": "the model returned an empty summary, please try again"})
		return
	}
	metrics.Generations.WithLabelValues("summary", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"summary": summary}})
}

func buildPrompt(text, focus string) string {
	sb := strings.Builder{}
	sb.WriteString("Summarize the following study material for exam revision.\n\n")
	if f := strings.TrimSpace(focus); f != "" {
		fmt.Fprintf(&sb, "Focus the summary on: %s.\n\n", f)
	}
	sb.WriteString("--- SOURCE MATERIAL ---\n")
	sb.WriteString(text)
	sb.WriteString("\n--- END SOURCE MATERIAL ---\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("1. Use short headed sections with bullet points.\n")
	sb.WriteString("2. Keep every date, number, article and proper name from the material.\n")
	sb.WriteString("3. Do not add facts that are not in the material.\n")
	sb.WriteString("4. Close with the three most examinable points.\n")
	return sb.String()
}

func renderDebitError(c *gin.Context, err error) {
	var ice *ledger.InsufficientCreditsError
	switch {
	case errors.Is(err, ledger.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": "sign in to use this feature"})
	case errors.As(err, &ice):
		c.JSON(http.StatusForbidden, gin.H{
			"error":     "insufficient_credits",
			"message":   fmt.Sprintf("%s costs %d credits but only %d remain", ice.Feature, ice.Cost, ice.Balance),
			"cost":      ice.Cost,
			"balance":   ice.Balance,
			"shortfall": ice.Shortfall,
		})
	case errors.Is(err, ledger.ErrUnknownFeature):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_feature"})
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger_unavailable", "message": "credit check failed, nothing was charged"})
	}
}
