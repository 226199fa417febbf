package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RefundDetail is one refund on an order as returned by the Admin API.
type RefundDetail struct {
	ID           string
	CreatedAt    time.Time
	Note         *string
	Amount       float64
	CurrencyCode string
	LineItems    []RefundLineItemDetail
}

// RefundLineItemDetail is one refunded line within a refund.
type RefundLineItemDetail struct {
	LineItemID string
	Title      string
	Quantity   int
}

// orderRefundsQuery fetches refund detail for a single order. Refund line
// items are not reachable through the bulk export dialect, so the sync
// pipeline issues this query once per ingested order.
const orderRefundsQuery = `
query orderRefunds($id: ID!) {
  order(id: $id) {
    id
    refunds {
      id
      createdAt
      note
      totalRefundedSet {
        shopMoney {
          amount
          currencyCode
        }
      }
      refundLineItems(first: 50) {
        edges {
          node {
            quantity
            lineItem {
              id
              title
            }
          }
        }
      }
    }
  }
}`

type moneyBag struct {
	ShopMoney struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"shopMoney"`
}

// FetchOrderRefunds returns all refunds recorded against the given order
// GID. An order unknown to the platform yields an empty slice, not an
// error, so deleted orders do not abort a sync.
func (c *Client) FetchOrderRefunds(ctx context.Context, orderID string) ([]RefundDetail, error) {
	data, err := c.graphql(ctx, orderRefundsQuery, map[string]interface{}{"id": orderID})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Order *struct {
			ID      string `json:"id"`
			Refunds []struct {
				ID               string   `json:"id"`
				CreatedAt        string   `json:"createdAt"`
				Note             *string  `json:"note"`
				TotalRefundedSet moneyBag `json:"totalRefundedSet"`
				RefundLineItems  struct {
					Edges []struct {
						Node struct {
							Quantity int `json:"quantity"`
							LineItem *struct {
								ID    string `json:"id"`
								Title string `json:"title"`
							} `json:"lineItem"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"refundLineItems"`
			} `json:"refunds"`
		} `json:"order"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse order refunds response: %w", err)
	}
	if resp.Order == nil {
		return nil, nil
	}

	refunds := make([]RefundDetail, 0, len(resp.Order.Refunds))
	for _, r := range resp.Order.Refunds {
		detail := RefundDetail{
			ID:           r.ID,
			Note:         r.Note,
			CurrencyCode: r.TotalRefundedSet.ShopMoney.CurrencyCode,
		}
		if amount, err := strconv.ParseFloat(r.TotalRefundedSet.ShopMoney.Amount, 64); err == nil {
			detail.Amount = amount
		}
		if t, err := time.Parse(time.RFC3339, r.CreatedAt); err == nil {
			detail.CreatedAt = t
		}

		for _, edge := range r.RefundLineItems.Edges {
			if edge.Node.LineItem == nil {
				continue
			}
			detail.LineItems = append(detail.LineItems, RefundLineItemDetail{
				LineItemID: edge.Node.LineItem.ID,
				Title:      edge.Node.LineItem.Title,
				Quantity:   edge.Node.Quantity,
			})
		}

		refunds = append(refunds, detail)
	}

	return refunds, nil
}
