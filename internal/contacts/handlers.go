package contacts

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rossfreedman/rally-sub007/internal/validation"
)

// Handler exposes captain search over HTTP for the lineup escrow UI.
type Handler struct {
	resolver Resolver
}

// NewHandler creates a new contacts handler.
func NewHandler(resolver Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// RegisterRoutes sets up contact search routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/contacts/search", h.Search)
}

// Search handles GET /v1/contacts/search?name=
func (h *Handler) Search(c *gin.Context) {
	name := validation.SanitizeString(c.Query("name"), validation.MaxNameLength)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name query parameter is required",
		})
		return
	}

	contacts, err := h.resolver.Search(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "directory_unavailable",
			"message": "Captain directory lookup failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contacts": contacts,
		"count":    len(contacts),
	})
}
