package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"refund-insights-service/internal/models"
)

// RefundReason is one aggregated refund-note bucket
type RefundReason struct {
	Reason string  `json:"reason"`
	Count  int64   `json:"count"`
	Amount float64 `json:"amount"`
}

// RefundedProduct is one aggregated refunded-product bucket
type RefundedProduct struct {
	Title    string `json:"title"`
	Quantity int64  `json:"quantity"`
	Refunds  int64  `json:"refunds"`
}

// DayBucket is one day of summed amounts
type DayBucket struct {
	Day    string  `json:"day"` // YYYY-MM-DD
	Amount float64 `json:"amount"`
}

// ReportRepository runs the aggregation queries behind the dashboard. Results
// are cached in Redis with a short TTL; a missing or failing Redis degrades
// to querying the database every time.
type ReportRepository struct {
	db     *gorm.DB
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Entry
}

// NewReportRepository creates a new report repository with optional caching
func NewReportRepository(db *gorm.DB, redisClient *redis.Client, cacheTTL time.Duration, logger *logrus.Logger) *ReportRepository {
	return &ReportRepository{
		db:     db,
		redis:  redisClient,
		ttl:    cacheTTL,
		logger: logger.WithField("component", "report_repository"),
	}
}

func reportCacheKey(shop, name string, from, to time.Time) string {
	return fmt.Sprintf("reports:%s:%s:%s:%s", shop, name, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func (r *ReportRepository) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if r.redis == nil {
		return false
	}
	data, err := r.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (r *ReportRepository) cacheSet(ctx context.Context, key string, value interface{}) {
	if r.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.redis.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.WithError(err).Debug("Failed to cache report result")
	}
}

// InvalidateShop drops every cached report for a shop. Called after a sync
// run completes and after webhook writes.
func (r *ReportRepository) InvalidateShop(ctx context.Context, shop string) {
	if r.redis == nil {
		return
	}
	iter := r.redis.Scan(ctx, 0, fmt.Sprintf("reports:%s:*", shop), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.redis.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.WithError(err).Debug("Failed to invalidate report cache key")
		}
	}
}

// TotalSales sums order totals for a shop within the date window
func (r *ReportRepository) TotalSales(ctx context.Context, shop string, from, to time.Time) (float64, int64, error) {
	type result struct {
		Total float64
		Count int64
	}
	key := reportCacheKey(shop, "total_sales", from, to)
	var cached result
	if r.cacheGet(ctx, key, &cached) {
		return cached.Total, cached.Count, nil
	}

	var res result
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(SUM(total_price), 0) as total, COUNT(*) as count").
		Where("shop = ? AND created_at >= ? AND created_at <= ?", shop, from, to).
		Scan(&res).Error
	if err != nil {
		return 0, 0, err
	}

	r.cacheSet(ctx, key, res)
	return res.Total, res.Count, nil
}

// TotalRefunds sums refund amounts for a shop within the date window. Refunds
// carry no shop column, so the query joins through orders.
func (r *ReportRepository) TotalRefunds(ctx context.Context, shop string, from, to time.Time) (float64, int64, error) {
	type result struct {
		Total float64
		Count int64
	}
	key := reportCacheKey(shop, "total_refunds", from, to)
	var cached result
	if r.cacheGet(ctx, key, &cached) {
		return cached.Total, cached.Count, nil
	}

	var res result
	err := r.db.WithContext(ctx).
		Table("refunds").
		Select("COALESCE(SUM(refunds.amount), 0) as total, COUNT(*) as count").
		Joins("JOIN orders ON orders.id = refunds.order_id").
		Where("orders.shop = ? AND refunds.created_at >= ? AND refunds.created_at <= ?", shop, from, to).
		Scan(&res).Error
	if err != nil {
		return 0, 0, err
	}

	r.cacheSet(ctx, key, res)
	return res.Total, res.Count, nil
}

// TopRefundReasons returns the top refund notes ranked by summed amount.
// Refunds without a note are excluded rather than lumped into a bucket.
func (r *ReportRepository) TopRefundReasons(ctx context.Context, shop string, from, to time.Time, limit int) ([]RefundReason, error) {
	key := reportCacheKey(shop, fmt.Sprintf("top_reasons_%d", limit), from, to)
	var cached []RefundReason
	if r.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	reasons := []RefundReason{}
	err := r.db.WithContext(ctx).
		Table("refunds").
		Select("refunds.note as reason, COUNT(*) as count, COALESCE(SUM(refunds.amount), 0) as amount").
		Joins("JOIN orders ON orders.id = refunds.order_id").
		Where("orders.shop = ? AND refunds.created_at >= ? AND refunds.created_at <= ?", shop, from, to).
		Where("refunds.note IS NOT NULL AND refunds.note <> ''").
		Group("refunds.note").
		Order("amount DESC").
		Limit(limit).
		Scan(&reasons).Error
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, key, reasons)
	return reasons, nil
}

// TopRefundedProducts returns the most refunded products ranked by total
// refunded quantity. Products are bucketed by line item title.
func (r *ReportRepository) TopRefundedProducts(ctx context.Context, shop string, from, to time.Time, limit int) ([]RefundedProduct, error) {
	key := reportCacheKey(shop, fmt.Sprintf("top_products_%d", limit), from, to)
	var cached []RefundedProduct
	if r.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	products := []RefundedProduct{}
	err := r.db.WithContext(ctx).
		Table("refund_line_items").
		Select("refund_line_items.title as title, COALESCE(SUM(refund_line_items.quantity), 0) as quantity, COUNT(DISTINCT refund_line_items.refund_id) as refunds").
		Joins("JOIN refunds ON refunds.id = refund_line_items.refund_id").
		Joins("JOIN orders ON orders.id = refunds.order_id").
		Where("orders.shop = ? AND refunds.created_at >= ? AND refunds.created_at <= ?", shop, from, to).
		Group("refund_line_items.title").
		Order("quantity DESC").
		Limit(limit).
		Scan(&products).Error
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, key, products)
	return products, nil
}

// SalesByDay sums order totals per calendar day. DATE() works on both
// postgres and the sqlite driver used in tests.
func (r *ReportRepository) SalesByDay(ctx context.Context, shop string, from, to time.Time) ([]DayBucket, error) {
	key := reportCacheKey(shop, "sales_by_day", from, to)
	var cached []DayBucket
	if r.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	buckets := []DayBucket{}
	err := r.db.WithContext(ctx).
		Table("orders").
		Select("DATE(created_at) as day, COALESCE(SUM(total_price), 0) as amount").
		Where("shop = ? AND created_at >= ? AND created_at <= ?", shop, from, to).
		Group("DATE(created_at)").
		Order("day ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, key, buckets)
	return buckets, nil
}

// RefundsByDay sums refund amounts per calendar day, joined through orders
// for shop scoping
func (r *ReportRepository) RefundsByDay(ctx context.Context, shop string, from, to time.Time) ([]DayBucket, error) {
	key := reportCacheKey(shop, "refunds_by_day", from, to)
	var cached []DayBucket
	if r.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	buckets := []DayBucket{}
	err := r.db.WithContext(ctx).
		Table("refunds").
		Select("DATE(refunds.created_at) as day, COALESCE(SUM(refunds.amount), 0) as amount").
		Joins("JOIN orders ON orders.id = refunds.order_id").
		Where("orders.shop = ? AND refunds.created_at >= ? AND refunds.created_at <= ?", shop, from, to).
		Group("DATE(refunds.created_at)").
		Order("day ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, key, buckets)
	return buckets, nil
}

// ProductSalesByDay sums order totals per calendar day for orders containing
// a line item with the given product title, matched case-insensitively
func (r *ReportRepository) ProductSalesByDay(ctx context.Context, shop, title string, from, to time.Time) ([]DayBucket, error) {
	key := reportCacheKey(shop, "product_sales_"+title, from, to)
	var cached []DayBucket
	if r.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	buckets := []DayBucket{}
	err := r.db.WithContext(ctx).
		Table("orders").
		Select("DATE(orders.created_at) as day, COALESCE(SUM(orders.total_price), 0) as amount").
		Where("orders.shop = ? AND orders.created_at >= ? AND orders.created_at <= ?", shop, from, to).
		Where("EXISTS (SELECT 1 FROM order_line_items WHERE order_line_items.order_id = orders.id AND LOWER(order_line_items.title) = LOWER(?))", title).
		Group("DATE(orders.created_at)").
		Order("day ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, key, buckets)
	return buckets, nil
}

// ProductRefundsByDay sums refund amounts per calendar day for refunds that
// include a line item with the given product title. The EXISTS keeps a refund
// counted once even when several of its line items share the title.
func (r *ReportRepository) ProductRefundsByDay(ctx context.Context, shop, title string, from, to time.Time) ([]DayBucket, error) {
	key := reportCacheKey(shop, "product_refunds_"+title, from, to)
	var cached []DayBucket
	if r.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	buckets := []DayBucket{}
	err := r.db.WithContext(ctx).
		Table("refunds").
		Select("DATE(refunds.created_at) as day, COALESCE(SUM(refunds.amount), 0) as amount").
		Joins("JOIN orders ON orders.id = refunds.order_id").
		Where("orders.shop = ?", shop).
		Where("EXISTS (SELECT 1 FROM refund_line_items WHERE refund_line_items.refund_id = refunds.id AND LOWER(refund_line_items.title) = LOWER(?))", title).
		Where("refunds.created_at >= ? AND refunds.created_at <= ?", from, to).
		Group("DATE(refunds.created_at)").
		Order("day ASC").
		Scan(&buckets).Error
	if err != nil {
		return nil, err
	}

	r.cacheSet(ctx, key, buckets)
	return buckets, nil
}
