package questions

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"prepq-backend/files"
	"prepq-backend/ledger"
	"prepq-backend/llm"
)

// Saver persists a finished batch as a reviewable practice session and
// returns the new session id.
type Saver interface {
	Create(ctx context.Context, title string, qs []Question) (string, error)
}

// Handler exposes the metered generation endpoints. Debit happens strictly
// before the model call: a failed generation is never refunded, a failed
// debit never reaches the provider.
type Handler struct {
	pipeline *Pipeline
	gate     *ledger.Gate
	saver    Saver
	identify ledger.IdentityFunc
}

func NewHandler(pipeline *Pipeline, gate *ledger.Gate, saver Saver, identify ledger.IdentityFunc) *Handler {
	return &Handler{pipeline: pipeline, gate: gate, saver: saver, identify: identify}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/questions/generate", h.generate)
	r.POST("/questions/generate-pdf", h.generatePDF)
}

type generateRequest struct {
	Subject    string `json:"subject"`
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
	Count      int    `json:"count"`
	Title      string `json:"title"`
}

func (h *Handler) generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}
	if req.Count == 0 {
		req.Count = DefaultCount
	}
	gen := GenRequest{
		Params: Params{
			Subject:    req.Subject,
			Topic:      req.Topic,
			Difficulty: req.Difficulty,
			Language:   req.Language,
			Count:      req.Count,
		},
		Kind: KindPrompt,
	}
	h.run(c, ledger.FeatureMCQGenerator, gen, sessionTitle(req.Title, req.Subject, req.Topic))
}

const maxUploadBytes = 20 << 20

func (h *Handler) generatePDF(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "missing file field"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "file exceeds the 20MB limit"})
		return
	}

	tmp, err := os.CreateTemp("", "upload-*.pdf")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure", "message": "could not store upload"})
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)
	if err := c.SaveUploadedFile(file, tmpPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure", "message": "could not store upload"})
		return
	}

	excerpt, err := files.ExtractPDFText(tmpPath, 0)
	if err != nil {
		log.Printf("[questions][handler] op=extract file=%s err=%v", file.Filename, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "could not read the pdf"})
		return
	}

	// Scanned PDFs have no text layer; hand the raw bytes to the model
	// instead so multimodal providers can still read them.
	var doc *llm.Document
	if strings.TrimSpace(excerpt) == "" {
		data, rerr := os.ReadFile(tmpPath)
		if rerr != nil || len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "empty pdf"})
			return
		}
		doc = &llm.Document{Name: file.Filename, MIME: "application/pdf", Data: data}
	}

	count, _ := strconv.Atoi(c.PostForm("count"))
	if count == 0 {
		count = DefaultCount
	}
	gen := GenRequest{
		Params: Params{
			Subject:    c.PostForm("subject"),
			Topic:      c.PostForm("topic"),
			Difficulty: c.PostForm("difficulty"),
			Language:   c.PostForm("language"),
			Count:      count,
		},
		Excerpt:  excerpt,
		Document: doc,
		Kind:     KindDocument,
	}
	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))
	}
	h.run(c, ledger.FeaturePDFMCQ, gen, title)
}

func (h *Handler) run(c *gin.Context, feature string, gen GenRequest, title string) {
	ident, err := h.identify(c)
	if err != nil {
		ident = ""
	}

	res, err := h.gate.Debit(c.Request.Context(), ident, feature, title)
	if err != nil {
		renderDebitError(c, err)
		return
	}
	if !res.Bypassed {
		c.Header("X-Credits-Remaining", strconv.Itoa(res.Balance))
	}

	batch, err := h.pipeline.Run(c.Request.Context(), gen)
	if err != nil {
		renderPipelineError(c, err)
		return
	}

	id, err := h.saver.Create(c.Request.Context(), title, batch.Questions)
	if err != nil {
		log.Printf("[questions][handler] op=save title=%q err=%v", title, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "persistence_failure",
			"message": "questions were generated and charged but could not be saved",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"session_id": id,
		"title":      title,
		"stage":      batch.Stage,
		"warnings":   batch.Warnings,
		"questions":  batch.Questions,
	}})
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

func renderPipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Client is gone; there is nobody to answer.
	case llm.IsUpstream(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable", "message": "the model provider failed to answer"})
	case errors.Is(err, ErrUnparsable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unparsable_response", "message": "the response could not be parsed into questions, please try again"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable"})
	}
}

func sessionTitle(title, subject, topic string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(subject); s != "" {
		parts = append(parts, s)
	}
	if t := strings.TrimSpace(topic); t != "" {
		parts = append(parts, t)
	}
	if len(parts) == 0 {
		return "Practice set"
	}
	return strings.Join(parts, ": ")
}
