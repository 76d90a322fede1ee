package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/paycore/pkg/config"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
)

const (
	pathQuote       = "/quotes"
	pathRateVersion = "/commission-rates/current"
	retryBase       = 100 * time.Millisecond
	responseCap     = 1 << 20
	paymentMethod   = "credit_card"
)

// Client calls the pricing service over HTTP, retrying transport failures and 5xx responses.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	maxRetries uint64
	backoff    func() retry.Backoff
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a pricing client from configuration.
func NewClient(cfg config.QuoteConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("quote service url is required")
	}
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		maxRetries: cfg.MaxRetries,
		backoff:    func() retry.Backoff { return retry.NewExponential(retryBase) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type quoteRequest struct {
	UserID            string     `json:"user_id"`
	ShippingAddressID string     `json:"shipping_address_id"`
	Items             []LineItem `json:"items"`
	PaymentMethod     string     `json:"payment_method"`
	InstallmentNumber int        `json:"installment_number"`
	PromoCode         *string    `json:"promo_code"`
}

type quoteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Quote
}

type rateVersionResponse struct {
	RateVersion string `json:"rate_version"`
}

// RateVersion fetches the identifier of the commission table currently in force.
func (c *Client) RateVersion(ctx context.Context) (string, error) {
	var out rateVersionResponse
	if err := c.do(ctx, http.MethodGet, pathRateVersion, nil, &out); err != nil {
		return "", err
	}
	version := strings.TrimSpace(out.RateVersion)
	if version == "" {
		return "", pkgerrors.New(pkgerrors.CodeQuote, "pricing service returned no rate version")
	}
	return version, nil
}

// Quote prices the cart.
func (c *Client) Quote(ctx context.Context, req Request) (*Quote, error) {
	body := quoteRequest{
		UserID:            req.UserID.String(),
		ShippingAddressID: req.ShippingAddressID.String(),
		Items:             req.Items,
		PaymentMethod:     paymentMethod,
		InstallmentNumber: req.Installments,
	}
	if promo := strings.TrimSpace(req.PromoCode); promo != "" {
		body.PromoCode = &promo
	}

	var out quoteResponse
	if err := c.do(ctx, http.MethodPost, pathQuote, body, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Message)
		if msg == "" {
			msg = "quote failure"
		}
		return nil, pkgerrors.New(pkgerrors.CodeQuote, msg)
	}
	q := out.Quote
	if q.InstallmentNumber == 0 {
		q.InstallmentNumber = req.Installments
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		if encoded, err = json.Marshal(body); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode quote request")
		}
	}

	backoff := retry.WithMaxRetries(c.maxRetries, c.backoff())
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, responseCap))
		if err != nil {
			return retry.RetryableError(err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return retry.RetryableError(fmt.Errorf("pricing service status %d", resp.StatusCode))
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode pricing response (status %d): %w", resp.StatusCode, err)
		}
		return nil
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeQuote, err, "quote failure")
	}
	return nil
}
