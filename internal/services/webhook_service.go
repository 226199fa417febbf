package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"refund-insights-service/internal/events"
	"refund-insights-service/internal/models"
	"refund-insights-service/internal/repository"
)

// Webhook topics handled by this service
const (
	TopicOrdersCreate    = "ORDERS_CREATE"
	TopicOrdersCancelled = "ORDERS_CANCELLED"
	TopicRefundsCreate   = "REFUNDS_CREATE"
	TopicAppUninstalled  = "APP_UNINSTALLED"
)

var (
	// ErrOrphanRefund means a refund webhook referenced an order that has
	// not been synced yet. The delivery is rejected so the platform retries
	// it after the next sync.
	ErrOrphanRefund = errors.New("refund references unknown order")

	// ErrUnhandledTopic means no handler is registered for the topic.
	ErrUnhandledTopic = errors.New("unhandled webhook topic")
)

// Compliance and noise topics acknowledged without any processing. Both
// update-topic spellings are accepted: rejecting either makes the platform
// redeliver forever.
var ackOnlyTopics = map[string]bool{
	"CUSTOMERS_DATA_REQUEST": true,
	"CUSTOMERS_REDACT":       true,
	"SHOP_REDACT":            true,
	"ORDER_UPDATED":          true,
	"ORDERS_UPDATED":         true,
}

// WebhookService applies incremental webhook deliveries between syncs.
// Payloads are REST-shaped (numeric ids, string money), so each handler
// rebuilds the GID keys the sync pipeline uses.
type WebhookService struct {
	orderRepo   *repository.OrderRepository
	sessionRepo *repository.SessionRepository
	reportRepo  *repository.ReportRepository
	publisher   *events.Publisher
	logger      *logrus.Entry
}

// NewWebhookService creates a new webhook service
func NewWebhookService(
	orderRepo *repository.OrderRepository,
	sessionRepo *repository.SessionRepository,
	reportRepo *repository.ReportRepository,
	publisher *events.Publisher,
	logger *logrus.Logger,
) *WebhookService {
	return &WebhookService{
		orderRepo:   orderRepo,
		sessionRepo: sessionRepo,
		reportRepo:  reportRepo,
		publisher:   publisher,
		logger:      logger.WithField("component", "webhook_service"),
	}
}

// HandleWebhook dispatches a verified delivery to its topic handler.
func (s *WebhookService) HandleWebhook(ctx context.Context, topic, shop string, payload []byte) error {
	log := s.logger.WithFields(logrus.Fields{"topic": topic, "shop": shop})

	var err error
	switch {
	case topic == TopicOrdersCreate:
		err = s.handleOrderCreate(ctx, shop, payload)
	case topic == TopicOrdersCancelled:
		err = s.handleOrderCancelled(ctx, shop, payload)
	case topic == TopicRefundsCreate:
		err = s.handleRefundCreate(ctx, shop, payload)
	case topic == TopicAppUninstalled:
		err = s.handleAppUninstalled(ctx, shop)
	case ackOnlyTopics[topic]:
		log.Debug("Acknowledged webhook without processing")
		return nil
	default:
		return ErrUnhandledTopic
	}

	if err != nil {
		return err
	}

	s.reportRepo.InvalidateShop(ctx, shop)
	s.publisher.WebhookProcessed(shop, topic)
	log.Info("Webhook processed")
	return nil
}

func orderGID(id int64) string    { return fmt.Sprintf("gid://shopify/Order/%d", id) }
func lineItemGID(id int64) string { return fmt.Sprintf("gid://shopify/LineItem/%d", id) }
func refundGID(id int64) string   { return fmt.Sprintf("gid://shopify/Refund/%d", id) }
func productGID(id int64) string  { return fmt.Sprintf("gid://shopify/Product/%d", id) }

func parseMoney(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// webhookOrder is the REST shape of an order delivery
type webhookOrder struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Email      *string `json:"email"`
	CreatedAt  string  `json:"created_at"`
	TotalPrice string  `json:"total_price"`
	Currency   string  `json:"currency"`
	Customer   *struct {
		ID        int64   `json:"id"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Email     *string `json:"email"`
	} `json:"customer"`
	ShippingAddress *struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Address1  *string `json:"address1"`
		Address2  *string `json:"address2"`
		City      *string `json:"city"`
		Province  *string `json:"province"`
		Country   *string `json:"country"`
		Zip       *string `json:"zip"`
	} `json:"shipping_address"`
	LineItems []struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		Title     string `json:"title"`
		Quantity  int    `json:"quantity"`
		Price     string `json:"price"`
		ProductID *int64 `json:"product_id"`
	} `json:"line_items"`
	Refunds []webhookRefund `json:"refunds"`
}

// webhookRefund is the REST shape of a refund delivery
type webhookRefund struct {
	ID           int64   `json:"id"`
	OrderID      int64   `json:"order_id"`
	Note         *string `json:"note"`
	CreatedAt    string  `json:"created_at"`
	Transactions []struct {
		Kind     string `json:"kind"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"transactions"`
	RefundLineItems []struct {
		Quantity int `json:"quantity"`
		LineItem *struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"line_item"`
	} `json:"refund_line_items"`
}

// amount sums the refund's transactions. Only kind "refund" transactions
// count; if none match (older payload shapes), the unfiltered sum is used.
func (r *webhookRefund) amount() (float64, string) {
	var refundSum, totalSum float64
	var matched bool
	currency := "USD"

	for _, tx := range r.Transactions {
		if tx.Currency != "" {
			currency = tx.Currency
		}
		amount := parseMoney(tx.Amount)
		totalSum += amount
		if tx.Kind == "refund" {
			refundSum += amount
			matched = true
		}
	}
	if matched {
		return refundSum, currency
	}
	return totalSum, currency
}

// handleOrderCreate upserts the order graph in one transaction so a partial
// delivery never leaves line items without their order.
func (s *WebhookService) handleOrderCreate(ctx context.Context, shop string, payload []byte) error {
	var wo webhookOrder
	if err := json.Unmarshal(payload, &wo); err != nil {
		return fmt.Errorf("invalid order payload: %w", err)
	}
	if wo.ID == 0 {
		return fmt.Errorf("order payload missing id")
	}

	return s.orderRepo.Transaction(ctx, func(tx *repository.OrderRepository) error {
		if err := s.upsertOrderGraph(ctx, tx, shop, &wo); err != nil {
			return err
		}
		return nil
	})
}

// handleOrderCancelled refreshes the order row and ingests any refunds
// embedded in the cancellation payload.
func (s *WebhookService) handleOrderCancelled(ctx context.Context, shop string, payload []byte) error {
	return s.handleOrderCreate(ctx, shop, payload)
}

func (s *WebhookService) upsertOrderGraph(ctx context.Context, repo *repository.OrderRepository, shop string, wo *webhookOrder) error {
	order := &models.Order{
		ID:           orderGID(wo.ID),
		Shop:         shop,
		Name:         wo.Name,
		Email:        wo.Email,
		TotalPrice:   parseMoney(wo.TotalPrice),
		CurrencyCode: wo.Currency,
	}
	if order.CurrencyCode == "" {
		order.CurrencyCode = "USD"
	}
	if t, err := parseTime(wo.CreatedAt); err == nil {
		order.CreatedAt = t
	}
	if wo.Customer != nil {
		customerID := fmt.Sprintf("gid://shopify/Customer/%d", wo.Customer.ID)
		order.CustomerID = &customerID
		order.CustomerFirstName = wo.Customer.FirstName
		order.CustomerLastName = wo.Customer.LastName
		if order.Email == nil {
			order.Email = wo.Customer.Email
		}
	}
	if addr := wo.ShippingAddress; addr != nil {
		order.ShippingFirstName = addr.FirstName
		order.ShippingLastName = addr.LastName
		order.Address1 = addr.Address1
		order.Address2 = addr.Address2
		order.City = addr.City
		order.Province = addr.Province
		order.Country = addr.Country
		order.Zip = addr.Zip
	}

	if err := repo.UpsertOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}

	for _, li := range wo.LineItems {
		item := &models.OrderLineItem{
			ID:       lineItemGID(li.ID),
			OrderID:  order.ID,
			Name:     li.Name,
			Title:    li.Title,
			Quantity: li.Quantity,
			Price:    parseMoney(li.Price),
		}
		if li.ProductID != nil {
			productID := productGID(*li.ProductID)
			item.ProductID = &productID

			product := &models.Product{ID: productID, Title: li.Title}
			if err := repo.UpsertProduct(ctx, product); err != nil {
				return fmt.Errorf("failed to upsert product: %w", err)
			}
		}
		if err := repo.UpsertLineItem(ctx, item); err != nil {
			return fmt.Errorf("failed to upsert line item: %w", err)
		}
	}

	for _, wr := range wo.Refunds {
		if err := s.upsertRefund(ctx, repo, order.ID, order.Name, &wr); err != nil {
			return err
		}
	}

	return nil
}

// handleRefundCreate applies a standalone refund delivery. The parent order
// must already exist; deliveries for unsynced orders are rejected with
// ErrOrphanRefund so the platform's retry picks them up after a sync.
func (s *WebhookService) handleRefundCreate(ctx context.Context, shop string, payload []byte) error {
	var wr webhookRefund
	if err := json.Unmarshal(payload, &wr); err != nil {
		return fmt.Errorf("invalid refund payload: %w", err)
	}
	if wr.ID == 0 || wr.OrderID == 0 {
		return fmt.Errorf("refund payload missing id or order_id")
	}

	orderID := orderGID(wr.OrderID)
	order, err := s.orderRepo.GetByID(ctx, shop, orderID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOrphanRefund, orderID)
	}

	return s.upsertRefund(ctx, s.orderRepo, order.ID, order.Name, &wr)
}

func (s *WebhookService) upsertRefund(ctx context.Context, repo *repository.OrderRepository, orderID, orderName string, wr *webhookRefund) error {
	amount, currency := wr.amount()
	refund := &models.Refund{
		ID:           refundGID(wr.ID),
		OrderID:      orderID,
		Note:         wr.Note,
		Amount:       amount,
		CurrencyCode: currency,
	}
	if t, err := parseTime(wr.CreatedAt); err == nil {
		refund.CreatedAt = t
	}

	if err := repo.UpsertRefund(ctx, refund); err != nil {
		return fmt.Errorf("failed to upsert refund: %w", err)
	}

	for _, rli := range wr.RefundLineItems {
		if rli.LineItem == nil {
			continue
		}
		item := &models.RefundLineItem{
			RefundID:   refund.ID,
			LineItemID: lineItemGID(rli.LineItem.ID),
			Title:      rli.LineItem.Title,
			Quantity:   rli.Quantity,
			OrderName:  orderName,
		}
		if err := repo.UpsertRefundLineItem(ctx, item); err != nil {
			return fmt.Errorf("failed to upsert refund line item: %w", err)
		}
	}

	return nil
}

// handleAppUninstalled removes the shop's sessions. Synced data is kept so a
// reinstall does not start from scratch.
func (s *WebhookService) handleAppUninstalled(ctx context.Context, shop string) error {
	if err := s.sessionRepo.DeleteByShop(ctx, shop); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}
