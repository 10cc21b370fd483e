// Package dhanhq is a minimal Go client for the DhanHQ v2 REST API,
// covering the endpoints the trading pipeline needs: session generation
// via PIN+TOTP, order placement/cancellation, order status, and fund
// limits.
package dhanhq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
)

const (
	defaultRoot  = "https://api.dhan.co/v2"
	defaultAuth  = "https://auth.dhan.co"
	defaultHTTPT = 7 * time.Second
)

var routes = map[string]string{
	"auth.token":   "/app/generate-token",
	"order.place":  "/orders",
	"order.cancel": "/orders/",
	"order.status": "/orders/",
	"funds":        "/fundlimit",
}

// Config holds client credentials and endpoints.
type Config struct {
	ClientID    string
	AccessToken string // pre-issued token; empty when using GenerateSession
	PIN         string
	TOTPSecret  string // base32 secret for programmatic TOTP login

	RootURL string // default: https://api.dhan.co/v2
	AuthURL string // default: https://auth.dhan.co
	Timeout time.Duration
	Debug   bool
}

// Client is the DhanHQ REST client.
type Client struct {
	clientID    string
	accessToken string
	pin         string
	totpSecret  string

	rootURL string
	authURL string
	debug   bool

	httpClient *http.Client
}

// New creates a client. Call GenerateSession when no access token is set.
func New(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuth
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPT
	}
	return &Client{
		clientID:    cfg.ClientID,
		accessToken: cfg.AccessToken,
		pin:         cfg.PIN,
		totpSecret:  cfg.TOTPSecret,
		rootURL:     strings.TrimRight(cfg.RootURL, "/"),
		authURL:     strings.TrimRight(cfg.AuthURL, "/"),
		debug:       cfg.Debug,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// AccessToken returns the current access token.
func (c *Client) AccessToken() string { return c.accessToken }

// GenerateSession performs the programmatic PIN+TOTP login and stores the
// returned access token on the client. The TOTP code is derived from the
// configured secret at call time.
func (c *Client) GenerateSession(ctx context.Context) error {
	if c.accessToken != "" {
		return nil // pre-issued token in use
	}
	if c.pin == "" || c.totpSecret == "" {
		return fmt.Errorf("dhanhq: PIN and TOTP secret required for session generation")
	}

	code, err := totp.GenerateCode(c.totpSecret, time.Now())
	if err != nil {
		return fmt.Errorf("dhanhq: totp generate: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"dhanClientId": c.clientID,
		"pin":          c.pin,
		"totp":         code,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.authURL+routes["auth.token"], bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.do(req)
	if err != nil {
		return fmt.Errorf("dhanhq: login: %w", err)
	}
	token, _ := res["accessToken"].(string)
	if token == "" {
		return fmt.Errorf("dhanhq: login response carried no access token: %v", res)
	}
	c.accessToken = token
	log.Printf("[dhanhq] session generated for client %s", c.clientID)
	return nil
}

// OrderRequest is the typed body for order placement.
type OrderRequest struct {
	CorrelationID   string  `json:"correlationId"`
	TransactionType string  `json:"transactionType"` // BUY / SELL
	ExchangeSegment string  `json:"exchangeSegment"` // e.g. NSE_FNO
	ProductType     string  `json:"productType"`     // INTRADAY
	OrderType       string  `json:"orderType"`       // LIMIT / MARKET
	Validity        string  `json:"validity"`        // DAY
	SecurityID      string  `json:"securityId"`
	Quantity        int64   `json:"quantity"`
	Price           float64 `json:"price,omitempty"` // rupees
}

// OrderResponse is the broker's view of an order.
type OrderResponse struct {
	OrderID        string  `json:"orderId"`
	CorrelationID  string  `json:"correlationId"`
	OrderStatus    string  `json:"orderStatus"` // PENDING, TRADED, REJECTED, CANCELLED, PART_TRADED
	FilledQty      int64   `json:"filledQty"`
	AverageTradedP float64 `json:"averageTradedPrice"` // rupees
	OMSErrorDesc   string  `json:"omsErrorDescription"`
}

// PlaceOrder submits an order and returns the broker order ID.
func (c *Client) PlaceOrder(ctx context.Context, ord OrderRequest) (string, error) {
	ord2 := struct {
		DhanClientID string `json:"dhanClientId"`
		OrderRequest
	}{DhanClientID: c.clientID, OrderRequest: ord}

	body, _ := json.Marshal(ord2)
	req, err := c.newRequest(ctx, http.MethodPost, routes["order.place"], body)
	if err != nil {
		return "", err
	}
	res, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("dhanhq: place order: %w", err)
	}
	oid, _ := res["orderId"].(string)
	if oid == "" {
		return "", fmt.Errorf("dhanhq: place order returned no orderId: %v", res)
	}
	return oid, nil
}

// CancelOrder asks the broker to cancel a working order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, routes["order.cancel"]+orderID, nil)
	if err != nil {
		return err
	}
	if _, err := c.do(req); err != nil {
		return fmt.Errorf("dhanhq: cancel order %s: %w", orderID, err)
	}
	return nil
}

// OrderStatus fetches the current state of an order.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (*OrderResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, routes["order.status"]+orderID, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.doRaw(req)
	if err != nil {
		return nil, fmt.Errorf("dhanhq: order status %s: %w", orderID, err)
	}
	var out OrderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("dhanhq: order status decode: %w", err)
	}
	return &out, nil
}

// FundLimits returns the available trading balance in rupees. Used as a
// cheap connectivity and credential probe.
func (c *Client) FundLimits(ctx context.Context) (float64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, routes["funds"], nil)
	if err != nil {
		return 0, err
	}
	res, err := c.do(req)
	if err != nil {
		return 0, fmt.Errorf("dhanhq: fund limits: %w", err)
	}
	bal, _ := res["availabelBalance"].(float64) // (sic) field name as served by the API
	if bal == 0 {
		bal, _ = res["availableBalance"].(float64)
	}
	return bal, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.rootURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("access-token", c.accessToken)
	req.Header.Set("client-id", c.clientID)
	return req, nil
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	raw, err := c.doRaw(req)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return out, nil
}

func (c *Client) doRaw(req *http.Request) ([]byte, error) {
	if c.debug {
		log.Printf("[dhanhq] %s %s", req.Method, req.URL)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c.debug {
		log.Printf("[dhanhq] response code=%d body=%s", resp.StatusCode, raw)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return raw, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// APIError carries the HTTP status and raw body of a failed API call.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dhanhq: HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying: throttling
// and server-side errors are; validation and auth failures are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
