package ledger

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// IdentityFunc resolves the calling user from the request. main wires in
// the login package's resolver; tests substitute their own.
type IdentityFunc func(c *gin.Context) (string, error)

// Handler exposes the read side of the ledger.
type Handler struct {
	gate     *Gate
	store    Store
	identify IdentityFunc
}

func NewHandler(gate *Gate, store Store, identify IdentityFunc) *Handler {
	return &Handler{gate: gate, store: store, identify: identify}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/credits/balance", h.getBalance)
	r.GET("/credits/transactions", h.getTransactions)
}

// getBalance answers an unidentified caller with a zero-balance free
// account rather than 401: not entitled is a state, not a failure.
func (h *Handler) getBalance(c *gin.Context) {
	ident, err := h.identify(c)
	if err != nil {
		ident = ""
	}
	a, err := h.gate.Balance(c.Request.Context(), ident)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable", "message": "could not fetch balance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identifier":        a.Identifier,
		"credits":           a.Balance,
		"plan_tier":         a.PlanTier,
		"monthly_allotment": a.MonthlyAllotment,
		"expires_at":        a.ExpiresAt,
	})
}

func (h *Handler) getTransactions(c *gin.Context) {
	ident, err := h.identify(c)
	if err != nil || ident == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": "sign in to view transactions"})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	txs, err := h.store.Transactions(c.Request.Context(), ident, limit)
	if err != nil {
		log.Printf("[credits][error] op=transactions ident=%s err=%v", ident, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}
