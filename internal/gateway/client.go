package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/paycore/pkg/config"
	pkgerrors "github.com/angelmondragon/paycore/pkg/errors"
	"github.com/angelmondragon/paycore/pkg/logger"
	"github.com/angelmondragon/paycore/pkg/metrics"
)

const (
	pathThreeD       = "/PaymentDealer/DoDirectPaymentThreeD"
	pathPaymentList  = "/PaymentDealer/GetPaymentList"
	pathTrxDetail    = "/PaymentDealer/GetDealerPaymentTrxDetailList"
	pathVoid         = "/PaymentDealer/DoVoid"
	pathRefund       = "/PaymentDealer/DoCreateRefundRequest"
	pathCapture      = "/PaymentDealer/DoCapture"
	resultSuccess    = "Success"
	noDataSuffix     = ".NoDataFound"
	responseReadCap  = 1 << 20
	defaultTimeout   = 20 * time.Second
	ledgerTimeLayout = "2006-01-02 15:04"

	// Currency is the only currency the dealer account settles in.
	Currency = "TL"
	// Provider is stored on every intent created through this client.
	Provider = "bakiyem"
)

var errCredentialsRequired = errors.New("gateway dealer credentials are required")

// Client speaks the dealer JSON protocol used for 3-D Secure payments and ledger queries.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	dealerCode   string
	username     string
	password     string
	software     string
	integratorID int
	logg         *logger.Logger
	metrics      *metrics.PaymentMetrics
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

// WithBaseURL overrides the configured base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithLogger attaches a logger for transport failures.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) { c.logg = logg }
}

// WithMetrics attaches gateway request metrics.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a gateway client from dealer configuration.
func NewClient(cfg config.GatewayConfig, opts ...Option) (*Client, error) {
	if !cfg.Configured() {
		return nil, errCredentialsRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimSpace(cfg.BaseURL),
		dealerCode:   strings.TrimSpace(cfg.DealerCode),
		username:     strings.TrimSpace(cfg.Username),
		password:     cfg.Password,
		software:     cfg.Software,
		integratorID: cfg.IntegratorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		return nil, errors.New("gateway base url is required")
	}
	return client, nil
}

// CheckKey derives the dealer check key sent with every request.
func CheckKey(dealerCode, username, password string) string {
	sum := sha256.Sum256([]byte(dealerCode + "MK" + username + "PD" + password))
	return hex.EncodeToString(sum[:])
}

// Authentication is the dealer credential block.
type Authentication struct {
	DealerCode string `json:"DealerCode"`
	Username   string `json:"Username"`
	Password   string `json:"Password"`
	CheckKey   string `json:"CheckKey"`
}

type envelope struct {
	Authentication Authentication `json:"PaymentDealerAuthentication"`
	Request        any            `json:"PaymentDealerRequest"`
}

type response struct {
	ResultCode    string          `json:"ResultCode"`
	ResultMessage string          `json:"ResultMessage"`
	Data          json.RawMessage `json:"Data"`
}

// Exchange captures one request/response pair for the transaction log.
// Request is always masked; Response is stored verbatim.
type Exchange struct {
	Operation     string
	Request       json.RawMessage
	Response      json.RawMessage
	HTTPStatus    int
	ResultCode    string
	ResultMessage string
}

// Succeeded reports whether the exchange returned HTTP 2xx and ResultCode Success.
func (e Exchange) Succeeded() bool {
	return e.HTTPStatus >= 200 && e.HTTPStatus < 300 && e.ResultCode == resultSuccess
}

func (c *Client) authentication() Authentication {
	return Authentication{
		DealerCode: c.dealerCode,
		Username:   c.username,
		Password:   c.password,
		CheckKey:   CheckKey(c.dealerCode, c.username, c.password),
	}
}

// post sends the enveloped request. A non-nil error means no usable response was received;
// the returned exchange still carries the masked request.
func (c *Client) post(ctx context.Context, operation, baseURL, path string, request any) (*Exchange, *response, error) {
	body := envelope{Authentication: c.authentication(), Request: request}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
	}

	exchange := &Exchange{Operation: operation, Request: MaskRequest(encoded)}

	if baseURL == "" {
		baseURL = c.baseURL
	}
	url := strings.TrimRight(baseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return exchange, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayProtocol, err, "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveGateway(operation, false, time.Since(started))
		if c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "operation", operation), "gateway.request.failed")
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return exchange, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayProtocol, err, "gateway timeout")
		}
		return exchange, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayProtocol, err, "gateway request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	exchange.HTTPStatus = resp.StatusCode
	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseReadCap))
	if err != nil {
		c.metrics.ObserveGateway(operation, false, time.Since(started))
		return exchange, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayProtocol, err, "read gateway response")
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		exchange.Response = invalidJSONResponse(raw)
		exchange.ResultCode = "JSON_ERROR"
		c.metrics.ObserveGateway(operation, false, time.Since(started))
		return exchange, nil, pkgerrors.Wrap(pkgerrors.CodeGatewayProtocol, err, fmt.Sprintf("decode gateway response (status %d)", resp.StatusCode))
	}

	exchange.Response = json.RawMessage(raw)
	exchange.ResultCode = strings.TrimSpace(parsed.ResultCode)
	exchange.ResultMessage = strings.TrimSpace(parsed.ResultMessage)
	c.metrics.ObserveGateway(operation, exchange.Succeeded(), time.Since(started))
	return exchange, &parsed, nil
}

func invalidJSONResponse(raw []byte) json.RawMessage {
	wrapped, _ := json.Marshal(map[string]string{"ResultCode": "JSON_ERROR", "Body": string(raw)})
	return wrapped
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
