package escrow

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rossfreedman/rally-sub007/internal/validation"
)

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrow", h.CreateSession)
	r.GET("/escrow/:id", h.GetSession)
	r.POST("/escrow/:id/submit", h.SubmitLineup)
	r.POST("/escrow/:id/cancel", h.CancelSession)
	r.POST("/escrow/:id/contact", h.UpdateContact)
	r.GET("/escrow/:id/confirmation", h.Confirmation)
}

// CreateSession handles POST /v1/escrow
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// Names and addresses come straight from form input; scrub them
	// before validation and storage.
	req.Initiator.CaptainName = validation.SanitizeString(req.Initiator.CaptainName, validation.MaxNameLength)
	req.Initiator.ContactAddress = validation.SanitizeString(req.Initiator.ContactAddress, validation.MaxNameLength)
	req.Recipient.CaptainName = validation.SanitizeString(req.Recipient.CaptainName, validation.MaxNameLength)
	req.Recipient.ContactAddress = validation.SanitizeString(req.Recipient.ContactAddress, validation.MaxNameLength)

	if errs := validation.Validate(
		validation.Required("initiator.teamId", req.Initiator.TeamID),
		validation.Required("initiator.captainName", req.Initiator.CaptainName),
		validation.MaxLength("initiatorLineup", req.InitiatorLineup, validation.MaxLineupLength),
		validation.MaxLength("recipient.captainName", req.Recipient.CaptainName, validation.MaxNameLength),
		validation.ValidChannel("recipient.contactChannel", string(req.Recipient.ContactChannel)),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	session, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyLineup), errors.Is(err, ErrMissingRecipient),
			errors.Is(err, ErrInvalidChannel), errors.Is(err, ErrInvalidTTL):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to create escrow session",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// GetSession handles GET /v1/escrow/:id?viewer=initiator|recipient
//
// The viewer parameter scopes which lineups are visible: before
// disclosure neither side can read the other's submission.
func (h *Handler) GetSession(c *gin.Context) {
	id := c.Param("id")

	session, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow session not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	viewer := ViewerRole(c.Query("viewer"))
	c.JSON(http.StatusOK, gin.H{"session": session.ViewFor(viewer)})
}

// SubmitRequest carries the opposing captain's lineup.
type SubmitRequest struct {
	RecipientLineup string `json:"recipientLineup" binding:"required"`
}

// SubmitLineup handles POST /v1/escrow/:id/submit
//
// Idempotent under retries: a duplicate submission after disclosure
// returns the disclosed session with outcome already_disclosed, not an
// error. A submission after cancel/expiry gets a clear "no longer open"
// response rather than a generic failure.
func (h *Handler) SubmitLineup(c *gin.Context) {
	id := c.Param("id")

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "recipientLineup is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.MaxLength("recipientLineup", req.RecipientLineup, validation.MaxLineupLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	outcome, session, err := h.service.SubmitRecipientLineup(c.Request.Context(), id, req.RecipientLineup)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyLineup):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
		case errors.Is(err, ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow session not found",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to submit lineup",
			})
		}
		return
	}

	switch outcome {
	case OutcomeDisclosed, OutcomeAlreadyDisclosed:
		// Either way the submitter sees the disclosed lineups.
		c.JSON(http.StatusOK, gin.H{
			"outcome": outcome,
			"session": session,
		})
	default:
		c.JSON(http.StatusConflict, gin.H{
			"outcome": outcome,
			"error":   "no_longer_open",
			"message": "This escrow is no longer open",
		})
	}
}

// CancelRequest identifies who is asking to cancel.
type CancelRequest struct {
	RequesterTeamID string `json:"requesterTeamId" binding:"required"`
}

// CancelSession handles POST /v1/escrow/:id/cancel
func (h *Handler) CancelSession(c *gin.Context) {
	id := c.Param("id")

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "requesterTeamId is required",
		})
		return
	}

	outcome, session, err := h.service.Cancel(c.Request.Context(), id, req.RequesterTeamID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow session not found",
			})
		case errors.Is(err, ErrUnauthorized):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "Only the initiating captain may cancel",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to cancel escrow session",
			})
		}
		return
	}

	switch outcome {
	case OutcomeCancelled:
		c.JSON(http.StatusOK, gin.H{
			"outcome": outcome,
			"session": session.ViewFor(ViewerInitiator),
		})
	default:
		// Cancellation lost the race: the session disclosed or expired
		// first. Conflict, not failure.
		c.JSON(http.StatusConflict, gin.H{
			"outcome": outcome,
			"error":   "conflict",
			"message": "Escrow session already " + string(session.Status),
		})
	}
}

// ContactRequest corrects the recipient's contact address.
type ContactRequest struct {
	Channel Channel `json:"channel" binding:"required"`
	Address string  `json:"address" binding:"required"`
}

// UpdateContact handles POST /v1/escrow/:id/contact
func (h *Handler) UpdateContact(c *gin.Context) {
	id := c.Param("id")

	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "channel and address are required",
		})
		return
	}

	address := validation.SanitizeString(req.Address, validation.MaxNameLength)
	session, err := h.service.UpdateRecipientContact(c.Request.Context(), id, req.Channel, address)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidChannel), errors.Is(err, ErrMissingRecipient):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
		case errors.Is(err, ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow session not found",
			})
		case errors.Is(err, ErrSessionClosed):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_longer_open",
				"message": "This escrow is no longer open",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to update contact",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session.ViewFor(ViewerInitiator)})
}

// Confirmation handles GET /v1/escrow/:id/confirmation
//
// Read surface for the confirmation page: final session state with both
// lineups once disclosed, nothing before.
func (h *Handler) Confirmation(c *gin.Context) {
	id := c.Param("id")

	session, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Escrow session not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	resp := gin.H{
		"id":               session.ID,
		"status":           session.Status,
		"initiatorCaptain": session.Initiator.CaptainName,
		"recipientCaptain": session.Recipient.CaptainName,
		"createdAt":        session.CreatedAt,
		"expiresAt":        session.ExpiresAt,
	}
	if session.Status == StatusDisclosed {
		resp["disclosedAt"] = session.DisclosedAt
		resp["initiatorLineup"] = session.InitiatorLineup
		resp["recipientLineup"] = session.RecipientLineup
	}
	c.JSON(http.StatusOK, resp)
}
