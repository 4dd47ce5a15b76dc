package sessions

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Handler exposes session review endpoints. No credit gating here:
// reviewing what was already generated and paid for is free.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/sessions", h.list)
	r.GET("/sessions/:id", h.get)
	r.PUT("/sessions/:id/answer", h.setAnswer)
	r.DELETE("/sessions/:id", h.delete)
}

func (h *Handler) list(c *gin.Context) {
	sums, err := h.store.List(c.Request.Context())
	if err != nil {
		log.Printf("[sessions][error] op=list err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sums})
}

func (h *Handler) get(c *gin.Context) {
	sess, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if err != nil {
		log.Printf("[sessions][error] op=get id=%s err=%v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess})
}

type answerRequest struct {
	QuestionID int    `json:"question_id"`
	Selected   string `json:"selected"`
}

func (h *Handler) setAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}
	selected := strings.ToUpper(strings.TrimSpace(req.Selected))
	if len(selected) != 1 || selected < "A" || selected > "D" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "selected must be A, B, C or D"})
		return
	}

	id := c.Param("id")
	err := h.store.SetAnswer(c.Request.Context(), id, req.QuestionID, selected)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	case errors.Is(err, ErrQuestionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "question_not_found"})
		return
	case err != nil:
		log.Printf("[sessions][error] op=answer id=%s question=%d err=%v", id, req.QuestionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}

	sess, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}
	correct := false
	for _, q := range sess.Questions {
		if q.ID == req.QuestionID {
			correct = q.CorrectOption == selected
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"session_id":  id,
		"question_id": req.QuestionID,
		"selected":    selected,
		"correct":     correct,
		"answered":    len(sess.Answers),
		"total":       len(sess.Questions),
	}})
}

func (h *Handler) delete(c *gin.Context) {
	id := c.Param("id")
	err := h.store.Delete(c.Request.Context(), id)
	if errors.Is(err, ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}
	if err != nil {
		log.Printf("[sessions][error] op=delete id=%s err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": id}})
}
