package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Refund mirrors a Shopify refund. Note is free text entered by the merchant
// and doubles as the "reason" grouping key in reports; it may be null.
type Refund struct {
	ID           string    `gorm:"type:varchar(255);primaryKey" json:"id"`
	OrderID      string    `gorm:"type:varchar(255);not null;index:idx_refunds_order" json:"orderId"`
	Note         *string   `gorm:"type:text" json:"note,omitempty"`
	CreatedAt    time.Time `gorm:"index:idx_refunds_created" json:"createdAt"`
	Amount       float64   `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	CurrencyCode string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currencyCode"`

	LineItems []RefundLineItem `gorm:"foreignKey:RefundID;constraint:OnDelete:CASCADE" json:"lineItems,omitempty"`
}

func (Refund) TableName() string {
	return "refunds"
}

// RefundLineItem links a refund to the order line item it reverses. A refund
// can cover several line items, so uniqueness is the (refund_id, line_item_id)
// pair rather than the line item id alone.
type RefundLineItem struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RefundID   string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_refund_line_items_refund_item" json:"refundId"`
	LineItemID string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_refund_line_items_refund_item" json:"lineItemId"`
	Title      string    `gorm:"type:varchar(500);index:idx_refund_line_items_title" json:"title"`
	Quantity   int       `gorm:"not null;default:1" json:"quantity"`
	OrderName  string    `gorm:"type:varchar(255)" json:"orderName"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (RefundLineItem) TableName() string {
	return "refund_line_items"
}

// BeforeCreate assigns the surrogate key. Upserts key on the composite
// unique index, not on this id.
func (r *RefundLineItem) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
