package billing

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"prepq-backend/ledger"
)

// Handler exposes checkout and the Stripe webhook endpoint.
type Handler struct {
	svc      *Service
	identify ledger.IdentityFunc
}

func NewHandler(svc *Service, identify ledger.IdentityFunc) *Handler {
	return &Handler{svc: svc, identify: identify}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/billing/packs", h.listPacks)
	r.POST("/billing/checkout", h.checkout)
	r.POST("/billing/webhook", h.webhook)
}

func (h *Handler) listPacks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"packs": h.svc.Packs(),
		"tiers": gin.H{
			string(ledger.PlanBasic): ledger.RenewalCredits(ledger.PlanBasic),
			string(ledger.PlanPro):   ledger.RenewalCredits(ledger.PlanPro),
		},
	}})
}

type checkoutRequest struct {
	Kind string `json:"kind"` // "pack" or "subscription"
	Pack string `json:"pack"`
	Tier string `json:"tier"`
}

func (h *Handler) checkout(c *gin.Context) {
	ident, err := h.identify(c)
	if err != nil || ident == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": "sign in to purchase credits"})
		return
	}
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed body"})
		return
	}

	var url, sessionID string
	switch req.Kind {
	case "pack":
		url, sessionID, err = h.svc.CheckoutPack(c.Request.Context(), ident, req.Pack)
	case "subscription":
		url, sessionID, err = h.svc.CheckoutSubscription(c.Request.Context(), ident, ledger.PlanTier(req.Tier))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "kind must be pack or subscription"})
		return
	}
	if errors.Is(err, ErrDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing_unavailable", "message": "purchases are not enabled on this server"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"url": url, "session_id": sessionID}})
}

func (h *Handler) webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	outcome, err := h.svc.ProcessWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if errors.Is(err, ErrBadSignature) || errors.Is(err, ErrBadPayload) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_webhook"})
		return
	}
	if err != nil {
		// Non-2xx makes Stripe redeliver; the ref dedupe keeps that safe.
		log.Printf("[billing][webhook] err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": outcome})
}
