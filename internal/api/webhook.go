package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attestra/attestra/internal/events"
)

// WebhookHandler handles HTTP requests for webhook subscriptions. All routes
// are token-gated when a TokenIssuer is configured.
type WebhookHandler struct {
	svc    *events.Service
	tokens *TokenIssuer
	logger *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(svc *events.Service, tokens *TokenIssuer, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, tokens: tokens, logger: logger}
}

// Register registers webhook routes on the given router group.
func (h *WebhookHandler) Register(rg *gin.RouterGroup) {
	hooks := rg.Group("/webhooks", RequireToken(h.tokens))
	{
		hooks.POST("", h.Subscribe)
		hooks.GET("", h.ListSubscriptions)
		hooks.DELETE("/:id", h.Unsubscribe)
	}
}

// Subscribe creates a webhook subscription. The signing secret is returned
// once in this response and never again.
func (h *WebhookHandler) Subscribe(c *gin.Context) {
	var req events.SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sub, err := h.svc.Subscribe(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("create webhook subscription", zap.String("url", req.URL), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscription failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       sub.Secret,
	})
}

// ListSubscriptions returns all webhook subscriptions, secrets omitted.
func (h *WebhookHandler) ListSubscriptions(c *gin.Context) {
	subs, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list webhook subscriptions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	if subs == nil {
		subs = []*events.Subscription{}
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": subs, "count": len(subs)})
}

// Unsubscribe deletes a webhook subscription.
func (h *WebhookHandler) Unsubscribe(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}

	if err := h.svc.Unsubscribe(c.Request.Context(), id); err != nil {
		if errors.Is(err, events.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		h.logger.Error("delete webhook subscription", zap.String("id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unsubscribe failed"})
		return
	}

	c.Status(http.StatusNoContent)
}
