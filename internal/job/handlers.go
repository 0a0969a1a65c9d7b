package job

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mworkman/handypay/internal/processor"
)

// Handler provides HTTP endpoints for job lifecycle operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new job handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up job routes. Identity is taken from the
// gateway-injected user headers (see server.Identity middleware).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/:id", h.GetJob)
	r.POST("/jobs/:id/checkout", h.Checkout)
	r.POST("/jobs/:id/claim", h.ClaimJob)
	r.POST("/jobs/:id/done", h.MarkDone)
	r.POST("/jobs/:id/confirm", h.ConfirmJob)
	r.POST("/jobs/:id/reopen", h.ReopenJob)
	r.POST("/jobs/:id/cancel", h.CancelJob)
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "serviceType and a positive serviceFeeCents are required",
		})
		return
	}

	j, err := h.service.Create(c.Request.Context(), c.GetString("userID"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"job": j})
}

// GetJob handles GET /v1/jobs/:id
func (h *Handler) GetJob(c *gin.Context) {
	j, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

// ListJobs handles GET /v1/jobs?role=customer|provider&limit=N
func (h *Handler) ListJobs(c *gin.Context) {
	userID := c.GetString("userID")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	var (
		jobs []*Job
		err  error
	)
	if c.Query("role") == "provider" {
		jobs, err = h.service.ListByProvider(c.Request.Context(), userID, limit)
	} else {
		jobs, err = h.service.ListByCustomer(c.Request.Context(), userID, limit)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// Checkout handles POST /v1/jobs/:id/checkout
func (h *Handler) Checkout(c *gin.Context) {
	j, clientSecret, err := h.service.Checkout(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j, "clientSecret": clientSecret})
}

// ClaimJob handles POST /v1/jobs/:id/claim
func (h *Handler) ClaimJob(c *gin.Context) {
	j, err := h.service.Claim(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

// MarkDone handles POST /v1/jobs/:id/done
func (h *Handler) MarkDone(c *gin.Context) {
	j, err := h.service.MarkDone(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

// ConfirmJob handles POST /v1/jobs/:id/confirm
func (h *Handler) ConfirmJob(c *gin.Context) {
	j, err := h.service.Confirm(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// ReopenJob handles POST /v1/jobs/:id/reopen
func (h *Handler) ReopenJob(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	j, err := h.service.Reopen(c.Request.Context(), c.Param("id"), c.GetString("userID"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

// CancelJob handles POST /v1/jobs/:id/cancel
func (h *Handler) CancelJob(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	j, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("userID"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": j})
}

// writeError maps service errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, ErrJobNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrJobAlreadyClaimed):
		status = http.StatusConflict
		code = "already_claimed"
	case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrStatusConflict):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, processor.ErrDeclined):
		status = http.StatusPaymentRequired
		code = "payment_declined"
	case errors.Is(err, processor.ErrInvalidRequest):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, processor.ErrUnavailable):
		// Transient processor trouble, never shown as a business rejection.
		status = http.StatusServiceUnavailable
		code = "payment_provider_unavailable"
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
