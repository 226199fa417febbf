package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"refund-insights-service/internal/events"
	"refund-insights-service/internal/models"
	"refund-insights-service/internal/repository"
)

func newWebhookFixture(t *testing.T) (*WebhookService, *gorm.DB) {
	db := setupTestDB(t)
	logger := testLogger()
	orderRepo := repository.NewOrderRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	reportRepo := repository.NewReportRepository(db, nil, time.Minute, logger)
	publisher, err := events.NewPublisher("", logger)
	require.NoError(t, err)

	return NewWebhookService(orderRepo, sessionRepo, reportRepo, publisher, logger), db
}

const shop = "test-shop.myshopify.com"

const orderCreatePayload = `{
	"id": 100,
	"name": "#1001",
	"email": "buyer@example.com",
	"created_at": "2026-01-10T12:00:00Z",
	"total_price": "120.50",
	"currency": "USD",
	"customer": {"id": 7, "first_name": "Ada", "last_name": "Lovelace"},
	"shipping_address": {"address1": "1 Main St", "city": "Springfield", "country": "US", "zip": "12345"},
	"line_items": [
		{"id": 200, "name": "Blue T-Shirt", "title": "Blue T-Shirt", "quantity": 2, "price": "25.00", "product_id": 300}
	]
}`

func TestHandleOrderCreate(t *testing.T) {
	svc, db := newWebhookFixture(t)

	err := svc.HandleWebhook(context.Background(), TopicOrdersCreate, shop, []byte(orderCreatePayload))
	require.NoError(t, err)

	var order models.Order
	require.NoError(t, db.Preload("LineItems").First(&order, "id = ?", "gid://shopify/Order/100").Error)
	assert.Equal(t, "#1001", order.Name)
	assert.Equal(t, shop, order.Shop)
	assert.Equal(t, 120.50, order.TotalPrice)
	require.NotNil(t, order.Address1)
	assert.Equal(t, "1 Main St", *order.Address1)

	require.Len(t, order.LineItems, 1)
	assert.Equal(t, "gid://shopify/LineItem/200", order.LineItems[0].ID)
	require.NotNil(t, order.LineItems[0].ProductID)
	assert.Equal(t, "gid://shopify/Product/300", *order.LineItems[0].ProductID)

	// Redelivery is idempotent
	require.NoError(t, svc.HandleWebhook(context.Background(), TopicOrdersCreate, shop, []byte(orderCreatePayload)))
	var count int64
	db.Model(&models.Order{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestHandleOrderCreateInvalidPayload(t *testing.T) {
	svc, db := newWebhookFixture(t)

	err := svc.HandleWebhook(context.Background(), TopicOrdersCreate, shop, []byte(`{"name": "#1001"}`))
	require.Error(t, err)

	var count int64
	db.Model(&models.Order{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestHandleRefundCreate(t *testing.T) {
	svc, db := newWebhookFixture(t)
	require.NoError(t, svc.HandleWebhook(context.Background(), TopicOrdersCreate, shop, []byte(orderCreatePayload)))

	payload := `{
		"id": 900,
		"order_id": 100,
		"note": "Damaged",
		"created_at": "2026-01-12T09:00:00Z",
		"transactions": [
			{"kind": "refund", "amount": "25.00", "currency": "USD"},
			{"kind": "void", "amount": "99.00", "currency": "USD"}
		],
		"refund_line_items": [
			{"quantity": 1, "line_item": {"id": 200, "title": "Blue T-Shirt"}}
		]
	}`
	require.NoError(t, svc.HandleWebhook(context.Background(), TopicRefundsCreate, shop, []byte(payload)))

	var refund models.Refund
	require.NoError(t, db.Preload("LineItems").First(&refund, "id = ?", "gid://shopify/Refund/900").Error)
	// Only the refund-kind transaction counts
	assert.Equal(t, 25.00, refund.Amount)
	require.NotNil(t, refund.Note)
	assert.Equal(t, "Damaged", *refund.Note)
	require.Len(t, refund.LineItems, 1)
	assert.Equal(t, "#1001", refund.LineItems[0].OrderName)
}

func TestHandleRefundCreateFallsBackToAllTransactions(t *testing.T) {
	svc, db := newWebhookFixture(t)
	require.NoError(t, svc.HandleWebhook(context.Background(), TopicOrdersCreate, shop, []byte(orderCreatePayload)))

	payload := `{
		"id": 901,
		"order_id": 100,
		"created_at": "2026-01-12T09:00:00Z",
		"transactions": [
			{"kind": "sale", "amount": "10.00"},
			{"kind": "sale", "amount": "5.00"}
		]
	}`
	require.NoError(t, svc.HandleWebhook(context.Background(), TopicRefundsCreate, shop, []byte(payload)))

	var refund models.Refund
	require.NoError(t, db.First(&refund, "id = ?", "gid://shopify/Refund/901").Error)
	assert.Equal(t, 15.00, refund.Amount)
}

func TestHandleRefundCreateOrphan(t *testing.T) {
	svc, db := newWebhookFixture(t)

	payload := `{"id": 900, "order_id": 404, "created_at": "2026-01-12T09:00:00Z"}`
	err := svc.HandleWebhook(context.Background(), TopicRefundsCreate, shop, []byte(payload))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrphanRefund)

	var count int64
	db.Model(&models.Refund{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestHandleOrderCancelledWithEmbeddedRefund(t *testing.T) {
	svc, db := newWebhookFixture(t)

	payload := `{
		"id": 100,
		"name": "#1001",
		"created_at": "2026-01-10T12:00:00Z",
		"total_price": "120.50",
		"currency": "USD",
		"refunds": [
			{"id": 900, "order_id": 100, "note": "Cancelled", "created_at": "2026-01-11T08:00:00Z",
			 "transactions": [{"kind": "refund", "amount": "120.50", "currency": "USD"}]}
		]
	}`
	require.NoError(t, svc.HandleWebhook(context.Background(), TopicOrdersCancelled, shop, []byte(payload)))

	var refund models.Refund
	require.NoError(t, db.First(&refund, "id = ?", "gid://shopify/Refund/900").Error)
	assert.Equal(t, 120.50, refund.Amount)
	assert.Equal(t, "gid://shopify/Order/100", refund.OrderID)
}

func TestHandleAppUninstalled(t *testing.T) {
	svc, db := newWebhookFixture(t)
	require.NoError(t, db.Create(&models.Session{ID: "sess-1", Shop: shop, AccessToken: "token"}).Error)
	require.NoError(t, svc.HandleWebhook(context.Background(), TopicOrdersCreate, shop, []byte(orderCreatePayload)))

	require.NoError(t, svc.HandleWebhook(context.Background(), TopicAppUninstalled, shop, []byte(`{}`)))

	var sessionCount, orderCount int64
	db.Model(&models.Session{}).Count(&sessionCount)
	db.Model(&models.Order{}).Count(&orderCount)
	assert.Equal(t, int64(0), sessionCount)
	// Synced data survives uninstall
	assert.Equal(t, int64(1), orderCount)
}

func TestHandleAckOnlyTopics(t *testing.T) {
	svc, _ := newWebhookFixture(t)

	for _, topic := range []string{"CUSTOMERS_DATA_REQUEST", "CUSTOMERS_REDACT", "SHOP_REDACT", "ORDER_UPDATED", "ORDERS_UPDATED"} {
		assert.NoError(t, svc.HandleWebhook(context.Background(), topic, shop, []byte(`{}`)), topic)
	}
}

func TestHandleUnhandledTopic(t *testing.T) {
	svc, _ := newWebhookFixture(t)

	err := svc.HandleWebhook(context.Background(), "PRODUCTS_DELETE", shop, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnhandledTopic)
}
