package subjects

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	repo *Repository
}

func NewHandler(r *Repository) *Handler { return &Handler{repo: r} }

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/subjects", h.list)
	r.GET("/languages", h.languages)
}

func (h *Handler) list(c *gin.Context) {
	items, err := h.repo.All()
	if err != nil {
		log.Printf("[subjects][error] op=list err=%v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failure"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

// Language is a generation language the client offers in its picker.
type Language struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// languages serves the static list of languages question generation
// supports well enough to offer in the UI.
func (h *Handler) languages(c *gin.Context) {
	data := []Language{
		{ID: 1, Name: "English", Code: "en"},
		{ID: 2, Name: "Hindi", Code: "hi"},
		{ID: 3, Name: "Bengali", Code: "bn"},
		{ID: 4, Name: "Marathi", Code: "mr"},
		{ID: 5, Name: "Tamil", Code: "ta"},
		{ID: 6, Name: "Telugu", Code: "te"},
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}
