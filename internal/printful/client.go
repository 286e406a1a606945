package printful

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// ProviderName is recorded on orders fulfilled through Printful.
	ProviderName = "PRINTFUL"

	// StatusSubmitted is assumed when the vendor response omits a status.
	StatusSubmitted = "SUBMITTED"
)

var ErrSubmissionFailed = errors.New("printful order submission failed")

type Recipient struct {
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	City        string `json:"city"`
	StateCode   string `json:"state_code"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
}

type OrderItem struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type OrderRequest struct {
	Recipient  Recipient   `json:"recipient"`
	Items      []OrderItem `json:"items"`
	ExternalID string      `json:"external_id"`
}

type OrderResult struct {
	ID     int64
	Status string
}

type ClientInterface interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

type Client struct {
	apiBase    string
	apiKey     string
	httpClient *http.Client
}

var _ ClientInterface = (*Client)(nil)

func NewClient(apiBase, apiKey string) *Client {
	return &Client{
		apiBase:    strings.TrimRight(apiBase, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type createOrderResponse struct {
	Result struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"result"`
}

func (c *Client) CreateOrder(ctx context.Context, orderReq OrderRequest) (*OrderResult, error) {
	body, err := json.Marshal(orderReq)
	if err != nil {
		return nil, fmt.Errorf("printful: failed to marshal order payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/orders", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("printful: failed to build order request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("printful: order request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		log.Error().Int("status", resp.StatusCode).Str("body", string(respBody)).Msg("Printful order rejected")
		return nil, fmt.Errorf("%w: status %d", ErrSubmissionFailed, resp.StatusCode)
	}

	var created createOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("printful: failed to decode order response: %w", err)
	}

	status := created.Result.Status
	if status == "" {
		status = StatusSubmitted
	}

	return &OrderResult{ID: created.Result.ID, Status: status}, nil
}
