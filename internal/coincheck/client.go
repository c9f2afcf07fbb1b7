package coincheck

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the production exchange endpoint.
const DefaultBaseURL = "https://coincheck.com"

// Client talks to the exchange's REST API. Public calls carry no auth;
// private calls are signed per request with caller-supplied credentials.
//
// Every method returns (typed payload, error) uniformly: a 2xx body whose
// own success marker is false comes back as *RemoteError, so callers never
// need per-endpoint knowledge of the envelope.
type Client struct {
	http    *resty.Client
	baseURL string
	signer  *Signer
}

// NewClient creates a client against baseURL, or the production endpoint
// when baseURL is empty.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    resty.New(),
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  NewSigner(),
	}
}

// classify maps a response status to the error taxonomy. Order matters:
// rate limiting and auth failures before the generic non-2xx case.
func classify(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return ErrAuthFailed
	case resp.IsError():
		return &APIError{Status: resp.StatusCode(), Body: string(resp.Body())}
	}
	return nil
}

func (c *Client) publicGet(ctx context.Context, endpoint string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetResult(out).
		Get(c.baseURL + endpoint)
	if err != nil {
		return fmt.Errorf("public GET %s: %w", endpoint, err)
	}
	return classify(resp)
}

func (c *Client) privateGet(ctx context.Context, creds Credentials, endpoint string, out any) error {
	url := c.baseURL + endpoint
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.signer.Headers(creds, url, "")).
		SetResult(out).
		Get(url)
	if err != nil {
		return fmt.Errorf("private GET %s: %w", endpoint, err)
	}
	return classify(resp)
}

func (c *Client) privatePost(ctx context.Context, creds Credentials, endpoint string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode body for %s: %w", endpoint, err)
	}

	// The signature covers the exact bytes sent, so the body is marshaled
	// once and passed through raw.
	url := c.baseURL + endpoint
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.signer.Headers(creds, url, string(body))).
		SetBody(body).
		SetResult(out).
		Post(url)
	if err != nil {
		return fmt.Errorf("private POST %s: %w", endpoint, err)
	}
	return classify(resp)
}

func (c *Client) privateDelete(ctx context.Context, creds Credentials, endpoint string, out any) error {
	url := c.baseURL + endpoint
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.signer.Headers(creds, url, "")).
		SetResult(out).
		Delete(url)
	if err != nil {
		return fmt.Errorf("private DELETE %s: %w", endpoint, err)
	}
	return classify(resp)
}

// rejected reports a 2xx payload that carries its own failure marker.
func rejected(msg string) error {
	if msg == "" {
		msg = "request rejected by exchange"
	}
	return &RemoteError{Message: msg}
}

// GetTicker fetches the public ticker for a pair.
func (c *Client) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	if pair == "" {
		pair = "btc_jpy"
	}
	var out Ticker
	if err := c.publicGet(ctx, "/api/ticker?pair="+pair, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrderBook fetches the public order book for a pair.
func (c *Client) GetOrderBook(ctx context.Context, pair string) (*OrderBook, error) {
	if pair == "" {
		pair = "btc_jpy"
	}
	var out OrderBook
	if err := c.publicGet(ctx, "/api/order_books?pair="+pair, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBalance fetches the account balance.
func (c *Client) GetBalance(ctx context.Context, creds Credentials) (*Balance, error) {
	var out Balance
	if err := c.privateGet(ctx, creds, "/api/accounts/balance", &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(out.Error)
	}
	return &out, nil
}

// CreateOrder places a new order. Pair and order type are validated before
// any network call.
func (c *Client) CreateOrder(ctx context.Context, creds Credentials, req OrderRequest) (*OrderResponse, error) {
	if req.Pair == "" || req.OrderType == "" {
		return nil, fmt.Errorf("%w: pair and order_type are required", ErrValidation)
	}
	var out OrderResponse
	if err := c.privatePost(ctx, creds, "/api/exchange/orders", req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(out.Error)
	}
	return &out, nil
}

// GetOrder fetches the remote state of one order.
func (c *Client) GetOrder(ctx context.Context, creds Credentials, orderID int64) (*OrderDetail, error) {
	var out OrderDetail
	if err := c.privateGet(ctx, creds, fmt.Sprintf("/api/exchange/orders/%d", orderID), &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(out.Error)
	}
	return &out, nil
}

// GetOpenOrders fetches all unsettled remote orders.
func (c *Client) GetOpenOrders(ctx context.Context, creds Credentials) (*OpenOrdersResponse, error) {
	var out OpenOrdersResponse
	if err := c.privateGet(ctx, creds, "/api/exchange/orders/opens", &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(out.Error)
	}
	return &out, nil
}

// CancelOrder cancels one order remotely.
func (c *Client) CancelOrder(ctx context.Context, creds Credentials, orderID int64) (*CancelResponse, error) {
	var out CancelResponse
	if err := c.privateDelete(ctx, creds, fmt.Sprintf("/api/exchange/orders/%d", orderID), &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(out.Error)
	}
	return &out, nil
}

// GetTransactions fetches up to limit most recent executed trades.
func (c *Client) GetTransactions(ctx context.Context, creds Credentials, limit int) (*TransactionsResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	var out TransactionsResponse
	endpoint := fmt.Sprintf("/api/exchange/orders/transactions_pagination?limit=%d", limit)
	if err := c.privateGet(ctx, creds, endpoint, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(out.Error)
	}
	return &out, nil
}

// GetBuyHistory fetches up to limit most recent over-the-counter purchases.
func (c *Client) GetBuyHistory(ctx context.Context, creds Credentials, limit int) (*BuyHistoryResponse, error) {
	if limit <= 0 {
		limit = 100
	}
	var out BuyHistoryResponse
	endpoint := fmt.Sprintf("/api/exchange/buys?limit=%d", limit)
	if err := c.privateGet(ctx, creds, endpoint, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, rejected(out.Error)
	}
	return &out, nil
}
