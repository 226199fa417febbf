package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"refund-insights-service/internal/models"
)

// Refund filter values accepted by ListOrders
const (
	FilterAll         = "All"
	FilterRefunded    = "Refunded"
	FilterNonRefunded = "Non-Refunded"
)

// OrderFilters represents filters for querying orders
type OrderFilters struct {
	Shop       string
	DateFrom   *time.Time
	DateTo     *time.Time
	FilterType string // All | Refunded | Non-Refunded
	Search     string
	SortBy     string // created_at | total_price | name | refund_amount | customer
	SortOrder  string // asc | desc
	Page       int
	Limit      int
}

// OrderRepository handles database operations for orders, products and refunds
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// UpsertOrder inserts or replaces an order row. Line items and refunds are
// upserted separately so re-syncs never duplicate children.
func (r *OrderRepository) UpsertOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"shop", "name", "email", "created_at", "updated_at",
			"total_price", "currency_code",
			"customer_id", "customer_first_name", "customer_last_name",
			"shipping_first_name", "shipping_last_name",
			"address1", "address2", "city", "province", "country", "zip",
		}),
	}).Omit(clause.Associations).Create(order).Error
}

// UpsertProduct inserts or refreshes a product row, last write wins
func (r *OrderRepository) UpsertProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "images", "updated_at"}),
	}).Create(product).Error
}

// UpsertLineItem inserts or replaces a single order line item
func (r *OrderRepository) UpsertLineItem(ctx context.Context, item *models.OrderLineItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"order_id", "name", "title", "quantity", "price", "product_id", "image_url", "updated_at",
		}),
	}).Create(item).Error
}

// UpsertRefund inserts or replaces a refund row
func (r *OrderRepository) UpsertRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"order_id", "note", "created_at", "amount", "currency_code",
		}),
	}).Omit(clause.Associations).Create(refund).Error
}

// UpsertRefundLineItem inserts or replaces a refund line item. Conflict is
// keyed on (refund_id, line_item_id), not the surrogate id.
func (r *OrderRepository) UpsertRefundLineItem(ctx context.Context, item *models.RefundLineItem) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "refund_id"}, {Name: "line_item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "quantity", "order_name", "updated_at",
		}),
	}).Create(item).Error
}

// GetByID retrieves an order with its line items and refunds, scoped to a shop
func (r *OrderRepository) GetByID(ctx context.Context, shop, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Preload("Refunds.LineItems").
		Preload("Refunds").
		Where("shop = ?", shop).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Exists reports whether an order id is present for the shop
func (r *OrderRepository) Exists(ctx context.Context, shop, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND shop = ?", id, shop).
		Count(&count).Error
	return count > 0, err
}

// Transaction runs fn inside a database transaction, exposing a repository
// bound to the transactional handle. Used by the webhook path so an order
// and its children commit atomically.
func (r *OrderRepository) Transaction(ctx context.Context, fn func(txRepo *OrderRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&OrderRepository{db: tx})
	})
}

// DeleteShopData removes all synced data for a shop. Children go first since
// sqlite (used in tests) does not cascade through gorm's soft constraints.
func (r *OrderRepository) DeleteShopData(ctx context.Context, shop string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orderIDs := tx.Model(&models.Order{}).Select("id").Where("shop = ?", shop)
		refundIDs := tx.Model(&models.Refund{}).Select("id").Where("order_id IN (?)", orderIDs)

		if err := tx.Where("refund_id IN (?)", refundIDs).Delete(&models.RefundLineItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id IN (?)", orderIDs).Delete(&models.Refund{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id IN (?)", orderIDs).Delete(&models.OrderLineItem{}).Error; err != nil {
			return err
		}
		return tx.Where("shop = ?", shop).Delete(&models.Order{}).Error
	})
}

// ListOrders retrieves a page of orders for a shop with refund filtering,
// free-text search and sorting. Search matches order name and email and is
// not constrained by the date window.
func (r *OrderRepository) ListOrders(ctx context.Context, filters OrderFilters) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("orders.shop = ?", filters.Shop)

	if filters.Search != "" {
		pattern := "%" + strings.ToLower(filters.Search) + "%"
		query = query.Where("LOWER(orders.name) LIKE ? OR LOWER(orders.email) LIKE ?", pattern, pattern)
	} else {
		if filters.DateFrom != nil {
			query = query.Where("orders.created_at >= ?", *filters.DateFrom)
		}
		if filters.DateTo != nil {
			query = query.Where("orders.created_at <= ?", *filters.DateTo)
		}
	}

	refundExists := "EXISTS (SELECT 1 FROM refunds WHERE refunds.order_id = orders.id)"
	switch filters.FilterType {
	case FilterRefunded:
		query = query.Where(refundExists)
	case FilterNonRefunded:
		query = query.Where("NOT " + refundExists)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortOrder := "DESC"
	if strings.EqualFold(filters.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	switch filters.SortBy {
	case "total_price", "name", "created_at":
		query = query.Order(fmt.Sprintf("orders.%s %s", filters.SortBy, sortOrder))
	case "refund_amount":
		query = query.Order(fmt.Sprintf(
			"(SELECT COALESCE(SUM(refunds.amount), 0) FROM refunds WHERE refunds.order_id = orders.id) %s", sortOrder))
	case "customer":
		query = query.Order(fmt.Sprintf(
			"orders.customer_first_name %s, orders.customer_last_name %s", sortOrder, sortOrder))
	default:
		query = query.Order("orders.created_at " + sortOrder)
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	query = query.Limit(limit).Offset((page - 1) * limit)

	err := query.
		Preload("LineItems").
		Preload("Refunds.LineItems").
		Preload("Refunds").
		Find(&orders).Error
	if err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}
