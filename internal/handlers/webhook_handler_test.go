package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"refund-insights-service/internal/events"
	"refund-insights-service/internal/models"
	"refund-insights-service/internal/repository"
	"refund-insights-service/internal/services"
)

const webhookSecret = "test-secret"

func setupWebhookRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.OrderLineItem{},
		&models.Product{},
		&models.Refund{},
		&models.RefundLineItem{},
		&models.Session{},
	))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	orderRepo := repository.NewOrderRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	reportRepo := repository.NewReportRepository(db, nil, time.Minute, logger)
	publisher, err := events.NewPublisher("", logger)
	require.NoError(t, err)

	service := services.NewWebhookService(orderRepo, sessionRepo, reportRepo, publisher, logger)
	handler := NewWebhookHandler(service, webhookSecret, logger)

	router := gin.New()
	router.POST("/webhooks/shopify", handler.HandleShopifyWebhook)
	return router, db
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func deliver(router *gin.Engine, topic, shop string, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify", bytes.NewReader(payload))
	req.Header.Set("X-Shopify-Hmac-Sha256", signature)
	req.Header.Set("X-Shopify-Topic", topic)
	req.Header.Set("X-Shopify-Shop-Domain", shop)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookValidDelivery(t *testing.T) {
	router, db := setupWebhookRouter(t)

	payload := []byte(`{"id": 100, "name": "#1001", "created_at": "2026-01-10T12:00:00Z", "total_price": "50.00", "currency": "USD"}`)
	w := deliver(router, "ORDERS_CREATE", "test-shop.myshopify.com", payload, signPayload(payload, webhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&models.Order{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestWebhookInvalidSignature(t *testing.T) {
	router, db := setupWebhookRouter(t)

	payload := []byte(`{"id": 100, "name": "#1001"}`)
	w := deliver(router, "ORDERS_CREATE", "test-shop.myshopify.com", payload, signPayload(payload, "wrong-secret"))

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var count int64
	db.Model(&models.Order{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestWebhookUnhandledTopic(t *testing.T) {
	router, _ := setupWebhookRouter(t)

	payload := []byte(`{}`)
	w := deliver(router, "PRODUCTS_DELETE", "test-shop.myshopify.com", payload, signPayload(payload, webhookSecret))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookOrphanRefund(t *testing.T) {
	router, _ := setupWebhookRouter(t)

	payload := []byte(`{"id": 900, "order_id": 404, "created_at": "2026-01-12T09:00:00Z"}`)
	w := deliver(router, "REFUNDS_CREATE", "test-shop.myshopify.com", payload, signPayload(payload, webhookSecret))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookMissingHeaders(t *testing.T) {
	router, _ := setupWebhookRouter(t)

	payload := []byte(`{}`)
	w := deliver(router, "", "", payload, signPayload(payload, webhookSecret))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
