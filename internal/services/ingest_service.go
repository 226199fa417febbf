package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"refund-insights-service/internal/clients/shopify"
	"refund-insights-service/internal/models"
	"refund-insights-service/internal/repository"
)

const (
	orderGIDPrefix    = "gid://shopify/Order/"
	lineItemGIDPrefix = "gid://shopify/LineItem/"

	// Bulk dump lines are usually small, but orders with many line items
	// can exceed bufio's default 64K token limit.
	maxLineSize = 1024 * 1024
)

// RefundFetcher fetches refund detail for a single order
type RefundFetcher interface {
	FetchOrderRefunds(ctx context.Context, orderID string) ([]shopify.RefundDetail, error)
}

// IngestStats summarizes one ingestion pass
type IngestStats struct {
	Total     int
	Processed int
	Failed    int
	Skipped   int
}

// IngestService consumes an NDJSON bulk export and upserts its contents.
// Lines are classified by GID prefix: orders are parents, line items are
// children carrying __parentId. Children that arrive before their parent are
// buffered and flushed when the parent shows up; children whose parent never
// shows up are skipped and logged, never fatal.
type IngestService struct {
	orderRepo  *repository.OrderRepository
	syncRepo   *repository.SyncRepository
	flushEvery int
	logger     *logrus.Entry
}

// NewIngestService creates a new ingest service
func NewIngestService(orderRepo *repository.OrderRepository, syncRepo *repository.SyncRepository, flushEvery int, logger *logrus.Logger) *IngestService {
	if flushEvery <= 0 {
		flushEvery = 10
	}
	return &IngestService{
		orderRepo:  orderRepo,
		syncRepo:   syncRepo,
		flushEvery: flushEvery,
		logger:     logger.WithField("component", "ingest_service"),
	}
}

// bulkLine is one NDJSON line from the bulk dump. Orders and line items
// share a single permissive shape; classification happens on the id prefix.
type bulkLine struct {
	ID       string `json:"id"`
	ParentID string `json:"__parentId"`

	// Order fields
	Name          string    `json:"name"`
	Email         *string   `json:"email"`
	CreatedAt     string    `json:"createdAt"`
	UpdatedAt     string    `json:"updatedAt"`
	TotalPriceSet *moneySet `json:"totalPriceSet"`
	Customer      *struct {
		ID        string  `json:"id"`
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
		Email     *string `json:"email"`
	} `json:"customer"`
	ShippingAddress *struct {
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
		Address1  *string `json:"address1"`
		Address2  *string `json:"address2"`
		City      *string `json:"city"`
		Province  *string `json:"province"`
		Country   *string `json:"country"`
		Zip       *string `json:"zip"`
	} `json:"shippingAddress"`

	// Line item fields
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Image    *struct {
		URL string `json:"url"`
	} `json:"image"`
	OriginalUnitPriceSet *moneySet `json:"originalUnitPriceSet"`
	Product              *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"product"`
}

type moneySet struct {
	ShopMoney struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"shopMoney"`
}

func (m *moneySet) amount() float64 {
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m.ShopMoney.Amount, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}

func (m *moneySet) currency() string {
	if m == nil || m.ShopMoney.CurrencyCode == "" {
		return "USD"
	}
	return m.ShopMoney.CurrencyCode
}

// Ingest streams the NDJSON dump for one shop, upserting orders, line items,
// products and refund detail. It is idempotent: re-running the same dump
// leaves the database unchanged. expectedTotal is the object count reported
// by the completed bulk operation (zero when unknown); progress flushes use
// it so mid-run totals reflect the whole dump, not just the lines read so far.
func (s *IngestService) Ingest(ctx context.Context, runID uuid.UUID, shop string, dump io.Reader, fetcher RefundFetcher, expectedTotal int) (*IngestStats, error) {
	stats := &IngestStats{}
	log := s.logger.WithFields(logrus.Fields{"shop": shop, "run_id": runID})

	// Orders seen this pass; orphaned children wait here for their parent.
	seenOrders := make(map[string]string) // order id -> order name
	pending := make(map[string][]bulkLine)

	scanner := bufio.NewScanner(dump)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		stats.Total++

		var line bulkLine
		if err := json.Unmarshal(raw, &line); err != nil {
			stats.Failed++
			s.logLine(ctx, runID, models.LogLevelError, "Unparseable bulk line", models.JSONB{"error": err.Error()})
			continue
		}

		switch {
		case strings.HasPrefix(line.ID, orderGIDPrefix):
			if err := s.ingestOrder(ctx, runID, shop, &line, fetcher); err != nil {
				stats.Failed++
				log.WithError(err).WithField("order_id", line.ID).Error("Failed to ingest order")
				s.logLine(ctx, runID, models.LogLevelError, "Failed to ingest order", models.JSONB{"orderId": line.ID, "error": err.Error()})
				continue
			}
			seenOrders[line.ID] = line.Name
			stats.Processed++

			// Flush children that arrived before this parent
			for _, child := range pending[line.ID] {
				if err := s.ingestLineItem(ctx, shop, line.ID, &child); err != nil {
					stats.Failed++
					s.logLine(ctx, runID, models.LogLevelError, "Failed to ingest line item", models.JSONB{"lineItemId": child.ID, "error": err.Error()})
					continue
				}
				stats.Processed++
			}
			delete(pending, line.ID)

		case strings.HasPrefix(line.ID, lineItemGIDPrefix):
			if line.ParentID == "" {
				stats.Skipped++
				s.logLine(ctx, runID, models.LogLevelWarn, "Line item without parent reference", models.JSONB{"lineItemId": line.ID})
				continue
			}
			if _, ok := seenOrders[line.ParentID]; !ok {
				pending[line.ParentID] = append(pending[line.ParentID], line)
				continue
			}
			if err := s.ingestLineItem(ctx, shop, line.ParentID, &line); err != nil {
				stats.Failed++
				s.logLine(ctx, runID, models.LogLevelError, "Failed to ingest line item", models.JSONB{"lineItemId": line.ID, "error": err.Error()})
			} else {
				stats.Processed++
			}

		default:
			stats.Skipped++
			s.logLine(ctx, runID, models.LogLevelWarn, "Unrecognized bulk line type", models.JSONB{"id": line.ID})
		}

		if stats.Total%s.flushEvery == 0 {
			s.flushProgress(ctx, runID, stats, expectedTotal)
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read bulk dump: %w", err)
	}

	// Children whose parent never arrived are dropped, not fatal
	for parentID, children := range pending {
		stats.Skipped += len(children)
		log.WithFields(logrus.Fields{"parent_id": parentID, "count": len(children)}).
			Warn("Dropping line items with missing parent order")
		s.logLine(ctx, runID, models.LogLevelWarn, "Dropped line items with missing parent order",
			models.JSONB{"parentId": parentID, "count": len(children)})
	}

	s.flushProgress(ctx, runID, stats, expectedTotal)
	return stats, nil
}

// ingestOrder upserts the order row, then its refund detail. A failed refund
// fetch logs a warning and keeps the order: the next sync will pick the
// refunds up.
func (s *IngestService) ingestOrder(ctx context.Context, runID uuid.UUID, shop string, line *bulkLine, fetcher RefundFetcher) error {
	order := &models.Order{
		ID:           line.ID,
		Shop:         shop,
		Name:         line.Name,
		Email:        line.Email,
		TotalPrice:   line.TotalPriceSet.amount(),
		CurrencyCode: line.TotalPriceSet.currency(),
	}
	if t, err := parseTime(line.CreatedAt); err == nil {
		order.CreatedAt = t
	}
	if line.Customer != nil {
		id := line.Customer.ID
		order.CustomerID = &id
		order.CustomerFirstName = line.Customer.FirstName
		order.CustomerLastName = line.Customer.LastName
		if order.Email == nil {
			order.Email = line.Customer.Email
		}
	}
	if addr := line.ShippingAddress; addr != nil {
		order.ShippingFirstName = addr.FirstName
		order.ShippingLastName = addr.LastName
		order.Address1 = addr.Address1
		order.Address2 = addr.Address2
		order.City = addr.City
		order.Province = addr.Province
		order.Country = addr.Country
		order.Zip = addr.Zip
	}

	if err := s.orderRepo.UpsertOrder(ctx, order); err != nil {
		return err
	}

	if fetcher == nil {
		return nil
	}
	refunds, err := fetcher.FetchOrderRefunds(ctx, line.ID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", line.ID).Warn("Failed to fetch refunds for order")
		s.logLine(ctx, runID, models.LogLevelWarn, "Failed to fetch refunds for order",
			models.JSONB{"orderId": line.ID, "error": err.Error()})
		return nil
	}
	return s.ingestRefunds(ctx, line.ID, line.Name, refunds)
}

func (s *IngestService) ingestRefunds(ctx context.Context, orderID, orderName string, refunds []shopify.RefundDetail) error {
	for _, detail := range refunds {
		refund := &models.Refund{
			ID:           detail.ID,
			OrderID:      orderID,
			Note:         detail.Note,
			CreatedAt:    detail.CreatedAt,
			Amount:       detail.Amount,
			CurrencyCode: detail.CurrencyCode,
		}
		if refund.CurrencyCode == "" {
			refund.CurrencyCode = "USD"
		}
		if err := s.orderRepo.UpsertRefund(ctx, refund); err != nil {
			return err
		}

		for _, li := range detail.LineItems {
			item := &models.RefundLineItem{
				RefundID:   detail.ID,
				LineItemID: li.LineItemID,
				Title:      li.Title,
				Quantity:   li.Quantity,
				OrderName:  orderName,
			}
			if err := s.orderRepo.UpsertRefundLineItem(ctx, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *IngestService) ingestLineItem(ctx context.Context, shop, orderID string, line *bulkLine) error {
	item := &models.OrderLineItem{
		ID:       line.ID,
		OrderID:  orderID,
		Name:     line.Name,
		Title:    line.Title,
		Quantity: line.Quantity,
		Price:    line.OriginalUnitPriceSet.amount(),
	}
	if line.Image != nil && line.Image.URL != "" {
		url := line.Image.URL
		item.ImageURL = &url
	}

	if line.Product != nil && line.Product.ID != "" {
		productID := line.Product.ID
		item.ProductID = &productID

		product := &models.Product{
			ID:    line.Product.ID,
			Title: line.Product.Title,
		}
		if item.ImageURL != nil {
			product.Images = models.StringList{*item.ImageURL}
		}
		if err := s.orderRepo.UpsertProduct(ctx, product); err != nil {
			return err
		}
	}

	return s.orderRepo.UpsertLineItem(ctx, item)
}

func (s *IngestService) flushProgress(ctx context.Context, runID uuid.UUID, stats *IngestStats, expectedTotal int) {
	if s.syncRepo == nil {
		return
	}
	total := stats.Total
	if expectedTotal > total {
		total = expectedTotal
	}
	if err := s.syncRepo.UpdateProgress(ctx, runID, total, stats.Processed, stats.Failed, stats.Skipped); err != nil {
		s.logger.WithError(err).Warn("Failed to flush sync progress")
	}
}

func (s *IngestService) logLine(ctx context.Context, runID uuid.UUID, level models.LogLevel, message string, data models.JSONB) {
	if s.syncRepo == nil {
		return
	}
	entry := &models.SyncLog{
		SyncRunID: runID,
		Level:     level,
		Message:   message,
		Data:      data,
	}
	if err := s.syncRepo.CreateLog(ctx, entry); err != nil {
		s.logger.WithError(err).Warn("Failed to write sync log")
	}
}
