package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"refund-insights-service/internal/clients/shopify"
	"refund-insights-service/internal/models"
	"refund-insights-service/internal/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Order{},
		&models.OrderLineItem{},
		&models.Product{},
		&models.Refund{},
		&models.RefundLineItem{},
		&models.Session{},
		&models.SyncRun{},
		&models.SyncLog{},
	))
	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeRefundFetcher struct {
	refunds map[string][]shopify.RefundDetail
	err     error
	calls   int
}

func (f *fakeRefundFetcher) FetchOrderRefunds(ctx context.Context, orderID string) ([]shopify.RefundDetail, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.refunds[orderID], nil
}

func newIngestFixture(t *testing.T) (*IngestService, *gorm.DB, uuid.UUID) {
	db := setupTestDB(t)
	orderRepo := repository.NewOrderRepository(db)
	syncRepo := repository.NewSyncRepository(db)

	run := &models.SyncRun{ID: uuid.New(), Shop: "test-shop.myshopify.com", Status: models.SyncStatusRunning}
	require.NoError(t, syncRepo.CreateRun(context.Background(), run))

	return NewIngestService(orderRepo, syncRepo, 2, testLogger()), db, run.ID
}

const orderLine = `{"id":"gid://shopify/Order/100","name":"#1001","email":"buyer@example.com","createdAt":"2026-01-10T12:00:00Z","totalPriceSet":{"shopMoney":{"amount":"120.50","currencyCode":"USD"}},"customer":{"id":"gid://shopify/Customer/7","firstName":"Ada","lastName":"Lovelace"}}`
const lineItemLine = `{"id":"gid://shopify/LineItem/200","__parentId":"gid://shopify/Order/100","name":"Blue T-Shirt","title":"Blue T-Shirt","quantity":2,"originalUnitPriceSet":{"shopMoney":{"amount":"25.00","currencyCode":"USD"}},"product":{"id":"gid://shopify/Product/300","title":"Blue T-Shirt"},"image":{"url":"https://cdn.example.com/shirt.png"}}`

func TestIngestOrderWithLineItem(t *testing.T) {
	svc, db, runID := newIngestFixture(t)

	dump := strings.Join([]string{orderLine, lineItemLine}, "\n")
	stats, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(dump), &fakeRefundFetcher{}, 0)
	require.NoError(t, err)

	// Both the order and its line item count as processed
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Skipped)

	var order models.Order
	require.NoError(t, db.Preload("LineItems").First(&order, "id = ?", "gid://shopify/Order/100").Error)
	assert.Equal(t, "#1001", order.Name)
	assert.Equal(t, 120.50, order.TotalPrice)
	assert.Equal(t, "test-shop.myshopify.com", order.Shop)
	require.NotNil(t, order.CustomerFirstName)
	assert.Equal(t, "Ada", *order.CustomerFirstName)

	require.Len(t, order.LineItems, 1)
	assert.Equal(t, 2, order.LineItems[0].Quantity)
	assert.Equal(t, 25.00, order.LineItems[0].Price)

	var product models.Product
	require.NoError(t, db.First(&product, "id = ?", "gid://shopify/Product/300").Error)
	assert.Equal(t, "Blue T-Shirt", product.Title)
}

func TestIngestIsIdempotent(t *testing.T) {
	svc, db, runID := newIngestFixture(t)
	fetcher := &fakeRefundFetcher{
		refunds: map[string][]shopify.RefundDetail{
			"gid://shopify/Order/100": {{
				ID:           "gid://shopify/Refund/900",
				CreatedAt:    time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
				Amount:       25.00,
				CurrencyCode: "USD",
				LineItems: []shopify.RefundLineItemDetail{
					{LineItemID: "gid://shopify/LineItem/200", Title: "Blue T-Shirt", Quantity: 1},
				},
			}},
		},
	}

	dump := strings.Join([]string{orderLine, lineItemLine}, "\n")
	for i := 0; i < 2; i++ {
		_, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(dump), fetcher, 0)
		require.NoError(t, err)
	}

	var orderCount, itemCount, refundCount, refundItemCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	db.Model(&models.OrderLineItem{}).Count(&itemCount)
	db.Model(&models.Refund{}).Count(&refundCount)
	db.Model(&models.RefundLineItem{}).Count(&refundItemCount)

	assert.Equal(t, int64(1), orderCount)
	assert.Equal(t, int64(1), itemCount)
	assert.Equal(t, int64(1), refundCount)
	assert.Equal(t, int64(1), refundItemCount)
}

func TestIngestChildBeforeParent(t *testing.T) {
	svc, db, runID := newIngestFixture(t)

	// Line item arrives before its order
	dump := strings.Join([]string{lineItemLine, orderLine}, "\n")
	stats, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(dump), &fakeRefundFetcher{}, 0)
	require.NoError(t, err)

	// The deferred child counts as processed once its parent flushes it
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 0, stats.Skipped)

	var itemCount int64
	db.Model(&models.OrderLineItem{}).Where("order_id = ?", "gid://shopify/Order/100").Count(&itemCount)
	assert.Equal(t, int64(1), itemCount)
}

func TestIngestOrphanLineItemIsSkipped(t *testing.T) {
	svc, db, runID := newIngestFixture(t)

	orphan := `{"id":"gid://shopify/LineItem/999","__parentId":"gid://shopify/Order/404","title":"Ghost","quantity":1}`
	dump := strings.Join([]string{orderLine, orphan}, "\n")
	stats, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(dump), &fakeRefundFetcher{}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Skipped)

	var itemCount int64
	db.Model(&models.OrderLineItem{}).Count(&itemCount)
	assert.Equal(t, int64(0), itemCount)

	// The drop is recorded on the run
	var logCount int64
	db.Model(&models.SyncLog{}).Where("sync_run_id = ? AND level = ?", runID, models.LogLevelWarn).Count(&logCount)
	assert.Equal(t, int64(1), logCount)
}

func TestIngestUnrecognizedLineIsSkipped(t *testing.T) {
	svc, _, runID := newIngestFixture(t)

	dump := strings.Join([]string{orderLine, `{"id":"gid://shopify/Fulfillment/1"}`}, "\n")
	stats, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(dump), &fakeRefundFetcher{}, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Skipped)
}

func TestIngestRefundFetchFailureKeepsOrder(t *testing.T) {
	svc, db, runID := newIngestFixture(t)
	fetcher := &fakeRefundFetcher{err: assert.AnError}

	stats, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(orderLine), fetcher, 0)
	require.NoError(t, err)

	// Order survives, counted as processed, with a warning logged
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Failed)

	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	assert.Equal(t, int64(1), orderCount)

	var logCount int64
	db.Model(&models.SyncLog{}).Where("sync_run_id = ? AND level = ?", runID, models.LogLevelWarn).Count(&logCount)
	assert.Equal(t, int64(1), logCount)
}

func TestIngestFlushesProgress(t *testing.T) {
	svc, db, runID := newIngestFixture(t)

	dump := strings.Join([]string{orderLine, lineItemLine}, "\n")
	_, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(dump), &fakeRefundFetcher{}, 0)
	require.NoError(t, err)

	var run models.SyncRun
	require.NoError(t, db.First(&run, "id = ?", runID).Error)
	assert.Equal(t, 2, run.TotalRecords)
	assert.Equal(t, 2, run.ProcessedRecords)
}

func TestIngestReportsExpectedTotal(t *testing.T) {
	svc, db, runID := newIngestFixture(t)

	// The platform reported 10 objects; only 2 streamed so far, but the
	// run's total should already reflect the whole dump
	dump := strings.Join([]string{orderLine, lineItemLine}, "\n")
	stats, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(dump), &fakeRefundFetcher{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)

	var run models.SyncRun
	require.NoError(t, db.First(&run, "id = ?", runID).Error)
	assert.Equal(t, 10, run.TotalRecords)
	assert.Equal(t, 2, run.ProcessedRecords)
}

func TestIngestEmptyDump(t *testing.T) {
	svc, _, runID := newIngestFixture(t)

	stats, err := svc.Ingest(context.Background(), runID, "test-shop.myshopify.com", strings.NewReader(""), &fakeRefundFetcher{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}
