package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"refund-insights-service/internal/clients/shopify"
	"refund-insights-service/internal/services"
)

// WebhookHandler receives Shopify webhook deliveries
type WebhookHandler struct {
	service       *services.WebhookService
	webhookSecret string
	logger        *logrus.Entry
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(service *services.WebhookService, webhookSecret string, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:       service,
		webhookSecret: webhookSecret,
		logger:        logger.WithField("component", "webhook_handler"),
	}
}

// HandleShopifyWebhook handles POST /webhooks/shopify. The signature is
// verified over the raw body before any parsing; unhandled topics and
// orphan refunds return 404 so the platform retries the delivery later.
func (h *WebhookHandler) HandleShopifyWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	signature := c.GetHeader("X-Shopify-Hmac-Sha256")
	if err := shopify.VerifyWebhook(payload, signature, h.webhookSecret); err != nil {
		h.logger.WithError(err).Warn("Rejected webhook with invalid signature")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	topic := c.GetHeader("X-Shopify-Topic")
	shop := c.GetHeader("X-Shopify-Shop-Domain")
	if topic == "" || shop == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing topic or shop domain header"})
		return
	}

	err = h.service.HandleWebhook(c.Request.Context(), topic, shop, payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, services.ErrUnhandledTopic), errors.Is(err, services.ErrOrphanRefund):
		h.logger.WithFields(logrus.Fields{"topic": topic, "shop": shop}).WithError(err).Warn("Webhook not processed")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.WithFields(logrus.Fields{"topic": topic, "shop": shop}).WithError(err).Error("Webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process webhook"})
	}
}
