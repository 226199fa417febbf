package shopify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"refund-insights-service/internal/clients"
)

// Client is a Shopify Admin GraphQL API client scoped to a single shop.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	shopDomain  string
	accessToken string
	apiVersion  string
	rateLimiter *rate.Limiter
	retrier     *clients.Retrier
}

// NewClient creates a new Admin API client for the given shop
func NewClient(shopDomain, accessToken, apiVersion string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     "https://" + shopDomain,
		shopDomain:  shopDomain,
		accessToken: accessToken,
		apiVersion:  apiVersion,
		rateLimiter: rate.NewLimiter(rate.Limit(2), 1), // 2 requests per second
		retrier:     clients.NewRetrier(clients.DefaultRetryConfig()),
	}
}

// ShopDomain returns the shop this client is bound to
func (c *Client) ShopDomain() string {
	return c.shopDomain
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// graphql executes a GraphQL document against the Admin API and returns the
// raw data payload. Throttled responses are retried with backoff; top-level
// GraphQL errors are returned as a single error.
func (c *Client) graphql(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{"query": query}
	if variables != nil {
		payload["variables"] = variables
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", c.baseURL, c.apiVersion)

	var respBody []byte
	var lastStatus int
	var lastErr error
	for attempt := 0; attempt <= c.retrier.MaxRetries(); attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Shopify-Access-Token", c.accessToken)

		resp, err := c.httpClient.Do(req)
		var retryAfter time.Duration
		if err != nil {
			lastStatus, lastErr = 0, err
		} else {
			respBody, lastErr = io.ReadAll(resp.Body)
			resp.Body.Close()
			lastStatus = resp.StatusCode
			retryAfter = clients.ParseRetryAfter(resp)
			if lastErr == nil && lastStatus >= 200 && lastStatus < 300 {
				return c.decodeGraphQL(respBody)
			}
		}

		if !c.retrier.ShouldRetry(lastStatus, lastErr) || attempt == c.retrier.MaxRetries() {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retrier.CalculateBackoff(attempt, retryAfter)):
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("shopify request failed: %w", lastErr)
	}
	return nil, fmt.Errorf("shopify API error (status %d): %s", lastStatus, string(respBody))
}

func (c *Client) decodeGraphQL(body []byte) (json.RawMessage, error) {
	var resp graphQLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse GraphQL response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", resp.Errors[0].Message)
	}
	return resp.Data, nil
}

// VerifyWebhook verifies a Shopify webhook signature: HMAC-SHA256 over the
// raw request body, base64-encoded, compared in constant time.
func VerifyWebhook(payload []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("no webhook secret configured")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("invalid webhook signature")
	}
	return nil
}
