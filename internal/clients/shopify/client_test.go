package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refund-insights-service/internal/clients"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient("test-shop.myshopify.com", "test-token", "2024-01")
	client.baseURL = server.URL
	return client
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhook(t *testing.T) {
	payload := []byte(`{"id":12345}`)
	secret := "shh-secret"

	t.Run("valid signature", func(t *testing.T) {
		assert.NoError(t, VerifyWebhook(payload, sign(payload, secret), secret))
	})

	t.Run("tampered payload", func(t *testing.T) {
		signature := sign(payload, secret)
		assert.Error(t, VerifyWebhook([]byte(`{"id":99999}`), signature, secret))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.Error(t, VerifyWebhook(payload, sign(payload, "other-secret"), secret))
	})

	t.Run("missing secret rejects everything", func(t *testing.T) {
		assert.Error(t, VerifyWebhook(payload, sign(payload, ""), ""))
	})
}

func TestInitiateBulkExport(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "test-token", r.Header.Get("X-Shopify-Access-Token"))
			assert.Equal(t, "/admin/api/2024-01/graphql.json", r.URL.Path)

			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"bulkOperationRunQuery": map[string]interface{}{
						"bulkOperation": map[string]interface{}{
							"id":     "gid://shopify/BulkOperation/1",
							"status": "CREATED",
						},
						"userErrors": []interface{}{},
					},
				},
			})
		})

		op, err := client.InitiateBulkExport(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "gid://shopify/BulkOperation/1", op.ID)
		assert.Equal(t, BulkStatusCreated, op.Status)
	})

	t.Run("user errors surface as initiation failure", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"bulkOperationRunQuery": map[string]interface{}{
						"bulkOperation": nil,
						"userErrors": []map[string]interface{}{
							{"field": []string{"query"}, "message": "A bulk query operation for this app and shop is already in progress"},
						},
					},
				},
			})
		})

		_, err := client.InitiateBulkExport(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBulkInitiation)
	})
}

func TestAwaitCompletion(t *testing.T) {
	t.Run("running then completed", func(t *testing.T) {
		polls := 0
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			polls++
			status := BulkStatusRunning
			url := ""
			if polls >= 3 {
				status = BulkStatusCompleted
				url = "https://storage.example.com/result.jsonl"
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"node": map[string]interface{}{
						"id":          "gid://shopify/BulkOperation/1",
						"status":      status,
						"url":         url,
						"objectCount": "42",
					},
				},
			})
		})

		op, err := client.AwaitCompletion(context.Background(), "gid://shopify/BulkOperation/1", time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, "https://storage.example.com/result.jsonl", op.URL)
		assert.Equal(t, "42", op.ObjectCount)
		assert.Equal(t, 3, polls)
	})

	t.Run("already completed returns without waiting an interval", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"node": map[string]interface{}{
						"id":     "gid://shopify/BulkOperation/1",
						"status": BulkStatusCompleted,
						"url":    "https://storage.example.com/result.jsonl",
					},
				},
			})
		})

		// An hour-long interval would hang here if the first poll waited
		start := time.Now()
		op, err := client.AwaitCompletion(context.Background(), "gid://shopify/BulkOperation/1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "https://storage.example.com/result.jsonl", op.URL)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("completed with empty url is a valid empty result", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"node": map[string]interface{}{
						"id":     "gid://shopify/BulkOperation/1",
						"status": BulkStatusCompleted,
					},
				},
			})
		})

		op, err := client.AwaitCompletion(context.Background(), "gid://shopify/BulkOperation/1", time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, op.URL)
	})

	t.Run("failed operation carries error code", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"node": map[string]interface{}{
						"id":        "gid://shopify/BulkOperation/1",
						"status":    BulkStatusFailed,
						"errorCode": "ACCESS_DENIED",
					},
				},
			})
		})

		_, err := client.AwaitCompletion(context.Background(), "gid://shopify/BulkOperation/1", time.Millisecond)
		require.Error(t, err)

		var bulkErr *BulkOperationError
		require.ErrorAs(t, err, &bulkErr)
		assert.Equal(t, "ACCESS_DENIED", bulkErr.Code)
	})

	t.Run("context cancellation stops polling", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"node": map[string]interface{}{
						"id":     "gid://shopify/BulkOperation/1",
						"status": BulkStatusRunning,
					},
				},
			})
		})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := client.AwaitCompletion(ctx, "gid://shopify/BulkOperation/1", 5*time.Millisecond)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestFetchOrderRefunds(t *testing.T) {
	t.Run("parses refunds with line items", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Variables map[string]interface{} `json:"variables"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "gid://shopify/Order/100", body.Variables["id"])

			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"order": map[string]interface{}{
						"id": "gid://shopify/Order/100",
						"refunds": []map[string]interface{}{
							{
								"id":        "gid://shopify/Refund/1",
								"createdAt": "2026-01-15T10:30:00Z",
								"note":      "Damaged",
								"totalRefundedSet": map[string]interface{}{
									"shopMoney": map[string]interface{}{
										"amount":       "49.99",
										"currencyCode": "USD",
									},
								},
								"refundLineItems": map[string]interface{}{
									"edges": []map[string]interface{}{
										{
											"node": map[string]interface{}{
												"quantity": 2,
												"lineItem": map[string]interface{}{
													"id":    "gid://shopify/LineItem/5",
													"title": "Blue T-Shirt",
												},
											},
										},
									},
								},
							},
						},
					},
				},
			})
		})

		refunds, err := client.FetchOrderRefunds(context.Background(), "gid://shopify/Order/100")
		require.NoError(t, err)
		require.Len(t, refunds, 1)

		refund := refunds[0]
		assert.Equal(t, "gid://shopify/Refund/1", refund.ID)
		assert.Equal(t, 49.99, refund.Amount)
		assert.Equal(t, "USD", refund.CurrencyCode)
		require.NotNil(t, refund.Note)
		assert.Equal(t, "Damaged", *refund.Note)
		require.Len(t, refund.LineItems, 1)
		assert.Equal(t, "gid://shopify/LineItem/5", refund.LineItems[0].LineItemID)
		assert.Equal(t, 2, refund.LineItems[0].Quantity)
	})

	t.Run("unknown order yields no refunds", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{"order": nil},
			})
		})

		refunds, err := client.FetchOrderRefunds(context.Background(), "gid://shopify/Order/999")
		require.NoError(t, err)
		assert.Empty(t, refunds)
	})
}

func TestGraphQLRetryOnThrottle(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"currentBulkOperation": nil},
		})
	})
	client.retrier = clients.NewRetrier(&clients.RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
		RetryableCodes: []int{http.StatusTooManyRequests},
	})

	op, err := client.CurrentBulkOperation(context.Background())
	require.NoError(t, err)
	assert.Nil(t, op)
	assert.Equal(t, 2, attempts)
}
