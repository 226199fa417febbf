package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Bulk operation statuses as reported by the platform
const (
	BulkStatusCreated   = "CREATED"
	BulkStatusRunning   = "RUNNING"
	BulkStatusCompleted = "COMPLETED"
	BulkStatusFailed    = "FAILED"
	BulkStatusCanceled  = "CANCELED"
)

// ErrBulkInitiation indicates the platform rejected the bulk query. The
// caller must not blindly retry: Shopify allows only one bulk operation per
// shop at a time, and a rejection usually means one is already running.
var ErrBulkInitiation = errors.New("bulk operation initiation rejected")

// BulkOperationError is returned when a bulk operation ends in FAILED.
type BulkOperationError struct {
	OperationID string
	Code        string
}

func (e *BulkOperationError) Error() string {
	return fmt.Sprintf("bulk operation %s failed: %s", e.OperationID, e.Code)
}

// BulkOperation is the platform-side state of an export job.
type BulkOperation struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	ErrorCode      string `json:"errorCode,omitempty"`
	URL            string `json:"url,omitempty"`
	PartialDataURL string `json:"partialDataUrl,omitempty"`
	ObjectCount    string `json:"objectCount,omitempty"`
	FileSize       string `json:"fileSize,omitempty"`
	CreatedAt      string `json:"createdAt,omitempty"`
	CompletedAt    string `json:"completedAt,omitempty"`
}

// bulkExportQuery exports every order with its line items. Child LineItem
// records surface in the NDJSON dump as separate lines carrying __parentId.
// Refund line detail is not available in the bulk dialect and is fetched
// per order instead.
const bulkExportQuery = `
mutation {
  bulkOperationRunQuery(
    query: """
    {
      orders {
        edges {
          node {
            id
            name
            email
            createdAt
            updatedAt
            lineItems {
              edges {
                node {
                  id
                  name
                  title
                  quantity
                  image {
                    url
                  }
                  originalUnitPriceSet {
                    shopMoney {
                      amount
                      currencyCode
                    }
                  }
                  product {
                    id
                    title
                  }
                }
              }
            }
            totalPriceSet {
              shopMoney {
                amount
                currencyCode
              }
            }
            customer {
              id
              firstName
              lastName
              email
            }
            shippingAddress {
              firstName
              lastName
              address1
              address2
              city
              province
              country
              zip
            }
          }
        }
      }
    }
    """
  ) {
    bulkOperation {
      id
      status
      url
    }
    userErrors {
      field
      message
    }
  }
}`

const pollStatusQuery = `
query bulkOperationStatus($id: ID!) {
  node(id: $id) {
    ... on BulkOperation {
      id
      status
      url
      errorCode
      objectCount
      fileSize
      partialDataUrl
    }
  }
}`

const currentBulkOperationQuery = `
query {
  currentBulkOperation {
    id
    status
    errorCode
    createdAt
    completedAt
    objectCount
    fileSize
    url
    partialDataUrl
  }
}`

// InitiateBulkExport submits the orders bulk query to the platform.
func (c *Client) InitiateBulkExport(ctx context.Context) (*BulkOperation, error) {
	data, err := c.graphql(ctx, bulkExportQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBulkInitiation, err)
	}

	var resp struct {
		BulkOperationRunQuery struct {
			BulkOperation *BulkOperation `json:"bulkOperation"`
			UserErrors    []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse bulk initiation response: %w", err)
	}

	if len(resp.BulkOperationRunQuery.UserErrors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrBulkInitiation, resp.BulkOperationRunQuery.UserErrors[0].Message)
	}
	if resp.BulkOperationRunQuery.BulkOperation == nil {
		return nil, fmt.Errorf("%w: no bulk operation returned", ErrBulkInitiation)
	}

	return resp.BulkOperationRunQuery.BulkOperation, nil
}

// PollStatus performs a single status check for the given operation.
func (c *Client) PollStatus(ctx context.Context, operationID string) (*BulkOperation, error) {
	data, err := c.graphql(ctx, pollStatusQuery, map[string]interface{}{"id": operationID})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Node *BulkOperation `json:"node"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse bulk status response: %w", err)
	}
	if resp.Node == nil {
		return nil, fmt.Errorf("bulk operation %s not found", operationID)
	}
	return resp.Node, nil
}

// CurrentBulkOperation returns the shop's most recent bulk operation, if any.
func (c *Client) CurrentBulkOperation(ctx context.Context) (*BulkOperation, error) {
	data, err := c.graphql(ctx, currentBulkOperationQuery, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		CurrentBulkOperation *BulkOperation `json:"currentBulkOperation"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse current bulk operation: %w", err)
	}
	return resp.CurrentBulkOperation, nil
}

// AwaitCompletion polls the operation on a fixed interval until it reaches
// COMPLETED or FAILED, checking once immediately before the first wait. The
// completed operation is returned so callers can read its URL and object
// count; COMPLETED with an empty URL is a valid empty result (zero matching
// records), not an error.
func (c *Client) AwaitCompletion(ctx context.Context, operationID string, interval time.Duration) (*BulkOperation, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		op, err := c.PollStatus(ctx, operationID)
		if err != nil {
			return nil, err
		}

		switch op.Status {
		case BulkStatusCompleted:
			return op, nil
		case BulkStatusFailed:
			return nil, &BulkOperationError{OperationID: operationID, Code: op.ErrorCode}
		case BulkStatusCanceled:
			return nil, &BulkOperationError{OperationID: operationID, Code: "CANCELED"}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadResult streams the NDJSON dump from the result URL. The caller
// owns the returned reader; dumps are unbounded so they are never buffered
// here.
func (c *Client) DownloadResult(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download bulk result: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("bulk result download failed (status %d)", resp.StatusCode)
	}
	return resp.Body, nil
}
