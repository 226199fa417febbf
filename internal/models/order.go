package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JSONB custom type for PostgreSQL JSONB
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, isString := value.(string); isString {
			bytes = []byte(s)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, j)
}

// StringList stores a list of strings as a JSONB array
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal([]string(l))
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, isString := value.(string); isString {
			bytes = []byte(s)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, l)
}

// Order mirrors a Shopify order. The primary key is the platform-assigned
// GID (gid://shopify/Order/N), which is globally unique across shops; every
// query must still filter by shop for tenant isolation.
type Order struct {
	ID           string    `gorm:"type:varchar(255);primaryKey" json:"id"`
	Shop         string    `gorm:"type:varchar(255);not null;index:idx_orders_shop;index:idx_orders_shop_created" json:"shop"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	Email        *string   `gorm:"type:varchar(255)" json:"email,omitempty"`
	CreatedAt    time.Time `gorm:"index:idx_orders_shop_created" json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	TotalPrice   float64   `gorm:"type:decimal(12,2);not null;default:0" json:"totalPrice"`
	CurrencyCode string    `gorm:"type:varchar(3);not null;default:'USD'" json:"currencyCode"`

	// Denormalized customer fields
	CustomerID        *string `gorm:"type:varchar(255)" json:"customerId,omitempty"`
	CustomerFirstName *string `gorm:"type:varchar(255)" json:"customerFirstName,omitempty"`
	CustomerLastName  *string `gorm:"type:varchar(255)" json:"customerLastName,omitempty"`

	// Denormalized shipping address fields
	ShippingFirstName *string `gorm:"type:varchar(255)" json:"shippingFirstName,omitempty"`
	ShippingLastName  *string `gorm:"type:varchar(255)" json:"shippingLastName,omitempty"`
	Address1          *string `gorm:"type:varchar(500)" json:"address1,omitempty"`
	Address2          *string `gorm:"type:varchar(500)" json:"address2,omitempty"`
	City              *string `gorm:"type:varchar(255)" json:"city,omitempty"`
	Province          *string `gorm:"type:varchar(255)" json:"province,omitempty"`
	Country           *string `gorm:"type:varchar(255)" json:"country,omitempty"`
	Zip               *string `gorm:"type:varchar(50)" json:"zip,omitempty"`

	// Relationships
	LineItems []OrderLineItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"lineItems,omitempty"`
	Refunds   []Refund        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"refunds,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Product is a slowly-changing dimension upserted opportunistically whenever
// it is encountered in an order's line items. Last write wins on title/images.
type Product struct {
	ID        string     `gorm:"type:varchar(255);primaryKey" json:"id"`
	Title     string     `gorm:"type:varchar(500);not null" json:"title"`
	Images    StringList `gorm:"type:jsonb" json:"images"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (Product) TableName() string {
	return "products"
}

// OrderLineItem belongs to exactly one order. ProductID is a soft reference:
// the product may be upserted in the same batch, or missing entirely.
type OrderLineItem struct {
	ID        string    `gorm:"type:varchar(255);primaryKey" json:"id"`
	OrderID   string    `gorm:"type:varchar(255);not null;index:idx_line_items_order" json:"orderId"`
	Name      string    `gorm:"type:varchar(500)" json:"name"`
	Title     string    `gorm:"type:varchar(500);index:idx_line_items_title" json:"title"`
	Quantity  int       `gorm:"not null;default:1" json:"quantity"`
	Price     float64   `gorm:"type:decimal(12,2);not null;default:0" json:"price"`
	ProductID *string   `gorm:"type:varchar(255);index:idx_line_items_product" json:"productId,omitempty"`
	ImageURL  *string   `gorm:"type:varchar(1000)" json:"imageUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (OrderLineItem) TableName() string {
	return "order_line_items"
}
