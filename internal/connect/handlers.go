package connect

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mworkman/handypay/internal/processor"
)

// Handler provides HTTP endpoints for payout account onboarding.
type Handler struct {
	service *Service
}

// NewHandler creates a new connect handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payout account routes. All routes act on the
// authenticated provider's own account.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payout-account", h.CreateAccount)
	r.GET("/payout-account", h.GetAccount)
	r.POST("/payout-account/onboarding-link", h.OnboardingLink)
	r.POST("/payout-account/login-link", h.LoginLink)
	r.POST("/payout-account/refresh", h.Refresh)
}

type createAccountRequest struct {
	Email       string `json:"email" binding:"required,email"`
	DisplayName string `json:"displayName"`
}

// CreateAccount handles POST /v1/payout-account
func (h *Handler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "a valid email is required",
		})
		return
	}

	acct, err := h.service.CreateAccount(c.Request.Context(), c.GetString("userID"), req.Email, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": accountView(acct)})
}

// GetAccount handles GET /v1/payout-account
func (h *Handler) GetAccount(c *gin.Context) {
	acct, err := h.service.Get(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": accountView(acct)})
}

type linkRequest struct {
	ReturnURL  string `json:"returnUrl" binding:"required,url"`
	RefreshURL string `json:"refreshUrl" binding:"required,url"`
}

// OnboardingLink handles POST /v1/payout-account/onboarding-link
func (h *Handler) OnboardingLink(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "returnUrl and refreshUrl are required",
		})
		return
	}

	url, err := h.service.OnboardingLink(c.Request.Context(), c.GetString("userID"), req.ReturnURL, req.RefreshURL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// LoginLink handles POST /v1/payout-account/login-link
func (h *Handler) LoginLink(c *gin.Context) {
	url, err := h.service.LoginLink(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// Refresh handles POST /v1/payout-account/refresh. It forces a re-read of
// the processor-side account, for clients returning from onboarding that
// do not want to wait for the webhook.
func (h *Handler) Refresh(c *gin.Context) {
	acct, err := h.service.Get(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err)
		return
	}
	acct, err = h.service.RefreshStatus(c.Request.Context(), acct.ProcessorAccountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": accountView(acct)})
}

// accountView adds the derived readiness flag to the JSON shape.
func accountView(a *Account) gin.H {
	return gin.H{
		"id":                 a.ID,
		"providerId":         a.ProviderID,
		"processorAccountId": a.ProcessorAccountID,
		"email":              a.Email,
		"displayName":        a.DisplayName,
		"detailsSubmitted":   a.DetailsSubmitted,
		"chargesEnabled":     a.ChargesEnabled,
		"payoutsEnabled":     a.PayoutsEnabled,
		"requirementsDue":    a.RequirementsDue,
		"payoutsReady":       a.PayoutsReady(),
		"createdAt":          a.CreatedAt,
		"updatedAt":          a.UpdatedAt,
	}
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, ErrAccountNotFound):
		status = http.StatusNotFound
		code = "account_not_found"
	case errors.Is(err, ErrAccountExists):
		status = http.StatusConflict
		code = "account_exists"
	case errors.Is(err, ErrOnboardingIncomplete):
		status = http.StatusConflict
		code = "onboarding_incomplete"
	case errors.Is(err, processor.ErrInvalidRequest):
		status = http.StatusBadRequest
		code = "invalid_request"
	case errors.Is(err, processor.ErrUnavailable):
		status = http.StatusServiceUnavailable
		code = "payment_provider_unavailable"
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
