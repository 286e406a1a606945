package paypal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// StatusCompleted is the only capture status treated as payment success.
	StatusCompleted = "COMPLETED"

	tokenCacheKey = "paypal:access_token"
)

var (
	ErrAuthFailed      = errors.New("paypal authentication failed")
	ErrCaptureRejected = errors.New("paypal capture was not completed")
)

type ClientInterface interface {
	GetOrder(ctx context.Context, orderID string) (*OrderDetails, error)
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderDetails, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)
}

type OrderDetails struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []Link `json:"links"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type LineItem struct {
	Name  string
	Price float64
	Qty   int
}

type CreateOrderRequest struct {
	Items     []LineItem
	Total     float64
	ReturnURL string
	CancelURL string
}

type CaptureResult struct {
	ID         string
	Status     string
	PayerEmail string
}

type Client struct {
	apiBase      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	redisClient  *redis.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

var _ ClientInterface = (*Client)(nil)

func NewClient(apiBase, clientID, clientSecret string) *Client {
	return &Client{
		apiBase:      strings.TrimRight(apiBase, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

// SetRedisClient enables cross-instance access-token caching. The client
// works without it; Redis just saves a token round-trip per cold instance.
func (c *Client) SetRedisClient(client *redis.Client) {
	c.redisClient = client
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	if c.redisClient != nil {
		cached, err := c.redisClient.Get(ctx, tokenCacheKey).Result()
		if err == nil && cached != "" {
			ttl, ttlErr := c.redisClient.TTL(ctx, tokenCacheKey).Result()
			if ttlErr == nil && ttl > 0 {
				c.token = cached
				c.tokenExp = time.Now().Add(ttl)
				return cached, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("paypal: failed to build token request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("PayPal token request rejected")
		return "", ErrAuthFailed
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("paypal: failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrAuthFailed
	}

	// Refresh a minute early so an in-flight call never carries a token
	// that expires mid-request.
	ttl := time.Duration(tok.ExpiresIn)*time.Second - time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	c.token = tok.AccessToken
	c.tokenExp = time.Now().Add(ttl)

	if c.redisClient != nil {
		if err := c.redisClient.Set(ctx, tokenCacheKey, tok.AccessToken, ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to cache PayPal token in Redis")
		}
	}

	return c.token, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v2/checkout/orders/"+orderID, nil)
	if err != nil {
		return nil, fmt.Errorf("paypal: failed to build order lookup request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal: order lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("paypal: order lookup returned status %d", resp.StatusCode)
	}

	var details OrderDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("paypal: failed to decode order lookup response: %w", err)
	}

	return &details, nil
}

func (c *Client) CreateOrder(ctx context.Context, orderReq CreateOrderRequest) (*OrderDetails, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	total := formatAmount(orderReq.Total)
	items := make([]map[string]any, 0, len(orderReq.Items))
	for _, item := range orderReq.Items {
		items = append(items, map[string]any{
			"name":        item.Name,
			"unit_amount": map[string]string{"currency_code": "USD", "value": formatAmount(item.Price)},
			"quantity":    strconv.Itoa(item.Qty),
		})
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount": map[string]any{
				"currency_code": "USD",
				"value":         total,
				"breakdown": map[string]any{
					"item_total": map[string]string{"currency_code": "USD", "value": total},
				},
			},
			"items": items,
		}},
		"application_context": map[string]string{
			"return_url": orderReq.ReturnURL,
			"cancel_url": orderReq.CancelURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("paypal: failed to marshal create order payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v2/checkout/orders", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("paypal: failed to build create order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal: create order failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		log.Error().Int("status", resp.StatusCode).Str("body", string(respBody)).Msg("PayPal create order rejected")
		return nil, fmt.Errorf("paypal: create order returned status %d", resp.StatusCode)
	}

	var details OrderDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("paypal: failed to decode create order response: %w", err)
	}

	return &details, nil
}

type captureResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
}

func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v2/checkout/orders/"+orderID+"/capture", nil)
	if err != nil {
		return nil, fmt.Errorf("paypal: failed to build capture request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal: capture request failed: %w", err)
	}
	defer resp.Body.Close()

	var capture captureResponse
	if err := json.NewDecoder(resp.Body).Decode(&capture); err != nil {
		return nil, fmt.Errorf("paypal: failed to decode capture response: %w", err)
	}

	if capture.Status != StatusCompleted {
		log.Warn().Str("paypal_order_id", orderID).Str("capture_status", capture.Status).Msg("PayPal capture not completed")
		return nil, fmt.Errorf("%w: status %q", ErrCaptureRejected, capture.Status)
	}

	return &CaptureResult{
		ID:         capture.ID,
		Status:     capture.Status,
		PayerEmail: capture.Payer.EmailAddress,
	}, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
