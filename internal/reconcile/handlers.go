package reconcile

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Processor webhook payloads are small; anything bigger is not ours.
const maxPayloadBytes = 1 << 20

// Handler exposes the webhook endpoint. It lives outside the
// authenticated API groups: the signature is the authentication.
type Handler struct {
	listener *Listener
}

func NewHandler(listener *Listener) *Handler {
	return &Handler{listener: listener}
}

// RegisterRoutes sets up the webhook route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/processor", h.Receive)
}

// Receive handles POST /webhooks/processor. A 2xx acknowledges the
// event; a 5xx asks the processor to redeliver.
func (h *Handler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_payload"})
		return
	}

	err = h.listener.HandleRaw(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
