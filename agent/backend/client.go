package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/voice-order-agent/agent/contract"
	"github.com/tanpawarit/voice-order-agent/agent/erp"
)

const maxResponseSizeBytes = 2 << 20

type Config struct {
	BaseURL      string        `envconfig:"BASE_URL" split_words:"true"`
	Token        string        `envconfig:"TOKEN" split_words:"true"`
	Timeout      time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"5s"`
	MaxRetryTime time.Duration `envconfig:"MAX_RETRY_TIME" split_words:"true" default:"3s"`
}

// ClientOption customizes Client.
type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMaxRetryTime bounds the total time spent retrying one request.
// Zero disables retries.
func WithMaxRetryTime(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetryTime = d
	}
}

var _ contractx.Backend = (*Client)(nil)

// Client talks to the ERP REST API. Transport failures and 5xx responses are
// retried with exponential backoff; 4xx responses are final.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	maxRetryTime time.Duration
	logger       zerolog.Logger
}

func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("erp base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid erp base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := &Client{
		baseURL:      baseURL,
		token:        strings.TrimSpace(cfg.Token),
		httpClient:   &http.Client{Timeout: timeout},
		maxRetryTime: cfg.MaxRetryTime,
		logger:       log.Logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

func (c *Client) GetCustomerByPhone(ctx context.Context, phone string) (erp.Customer, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return erp.GuestCustomer(phone), nil
	}

	var customer erp.Customer
	status, err := c.do(ctx, http.MethodGet, "/customers/by-phone/"+url.PathEscape(phone), nil, nil, &customer)
	if err != nil {
		return erp.Customer{}, err
	}
	switch {
	case status == http.StatusNotFound:
		return erp.GuestCustomer(phone), nil
	case isSuccess(status):
		return customer, nil
	default:
		return erp.Customer{}, fmt.Errorf("%w: get customer status=%d", contractx.ErrBackend, status)
	}
}

func (c *Client) ListProducts(ctx context.Context) ([]erp.Product, error) {
	var products []erp.Product
	status, err := c.do(ctx, http.MethodGet, "/products", nil, nil, &products)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, fmt.Errorf("%w: list products status=%d", contractx.ErrBackend, status)
	}
	return products, nil
}

// GetProduct returns nil without error when the code is unknown.
func (c *Client) GetProduct(ctx context.Context, code string) (*erp.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, nil
	}

	var product erp.Product
	status, err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(code), nil, nil, &product)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case isSuccess(status):
		return &product, nil
	default:
		return nil, fmt.Errorf("%w: get product status=%d", contractx.ErrBackend, status)
	}
}

func (c *Client) SearchProducts(ctx context.Context, term string) ([]erp.Product, error) {
	var products []erp.Product
	query := url.Values{"q": []string{strings.TrimSpace(term)}}
	status, err := c.do(ctx, http.MethodGet, "/products/search", query, nil, &products)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return []erp.Product{}, nil
	}
	if !isSuccess(status) {
		return nil, fmt.Errorf("%w: search products status=%d", contractx.ErrBackend, status)
	}
	return products, nil
}

// ValidateOrderItems also decodes 400 responses, which carry per-line errors.
func (c *Client) ValidateOrderItems(ctx context.Context, items []erp.OrderItem) (erp.OrderValidation, error) {
	var validation erp.OrderValidation
	body := map[string]any{"items": items}
	status, err := c.do(ctx, http.MethodPost, "/orders/validate", nil, body, &validation)
	if err != nil {
		return erp.OrderValidation{}, err
	}
	if !isSuccess(status) && status != http.StatusBadRequest {
		return erp.OrderValidation{}, fmt.Errorf("%w: validate order status=%d", contractx.ErrBackend, status)
	}
	if !validation.Valid && len(validation.Errors) == 0 {
		validation.Errors = []string{"Pedido inválido"}
	}
	return validation, nil
}

func (c *Client) CreateOrder(ctx context.Context, customerID string, items []erp.OrderItem) (erp.OrderResult, error) {
	var out struct {
		Success bool    `json:"success"`
		OrderID string  `json:"order_id"`
		Total   float64 `json:"total"`
		Error   string  `json:"error"`
		Message string  `json:"message"`
	}
	body := map[string]any{
		"customer_id": customerID,
		"items":       items,
	}
	status, err := c.do(ctx, http.MethodPost, "/orders", nil, body, &out)
	if err != nil {
		return erp.OrderResult{}, err
	}

	if isSuccess(status) {
		return erp.OrderResult{Success: true, OrderID: out.OrderID, Total: out.Total}, nil
	}
	if status >= http.StatusBadRequest && status < http.StatusInternalServerError && status != http.StatusUnauthorized {
		reason := strings.TrimSpace(out.Error)
		if reason == "" {
			reason = strings.TrimSpace(out.Message)
		}
		if reason == "" {
			reason = "Error creando pedido"
		}
		return erp.OrderResult{Success: false, Error: reason}, nil
	}
	return erp.OrderResult{}, fmt.Errorf("%w: create order status=%d", contractx.ErrBackend, status)
}

// do performs one logical request. It returns the final status code; out is
// decoded whenever the response carries a JSON body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal erp request: %w", err)
		}
		payload = encoded
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var (
		status int
		raw    []byte
	)
	op := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build erp request: %w", err))
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
		if err != nil {
			return fmt.Errorf("read erp response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("erp http status=%d body=%s", resp.StatusCode, string(data))
		}
		status = resp.StatusCode
		raw = data
		return nil
	}

	if err := backoff.Retry(op, c.retryPolicy(ctx)); err != nil {
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("erp request failed")
		return 0, fmt.Errorf("%w: %s %s: %v", contractx.ErrBackend, method, path, err)
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil && isSuccess(status) {
			return 0, fmt.Errorf("%w: decode %s response: %v", contractx.ErrBackend, path, err)
		}
	}
	return status, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOffContext {
	if c.maxRetryTime <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = c.maxRetryTime
	return backoff.WithContext(bo, ctx)
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
