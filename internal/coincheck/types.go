package coincheck

import "time"

// Wire types for the exchange's REST API. Amount-like fields arrive as
// decimal strings and are kept that way; callers parse at the point of use.

// Ticker is the public market snapshot for one pair.
type Ticker struct {
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    string  `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// OrderBook holds the public order book: price levels as [price, amount]
// string pairs, best first.
type OrderBook struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
}

// Balance is the account balance for a credential pair.
type Balance struct {
	Success     bool   `json:"success"`
	Jpy         string `json:"jpy"`
	Btc         string `json:"btc"`
	JpyReserved string `json:"jpy_reserved"`
	BtcReserved string `json:"btc_reserved"`
	Error       string `json:"error"`
}

// OrderRequest is the body of a new order. Rate is required for limit
// orders, Amount for limit and market sells, MarketBuyAmount (a JPY
// figure) for market buys.
type OrderRequest struct {
	Pair            string   `json:"pair"`
	OrderType       string   `json:"order_type"`
	Rate            *float64 `json:"rate,omitempty"`
	Amount          *float64 `json:"amount,omitempty"`
	MarketBuyAmount *float64 `json:"market_buy_amount,omitempty"`
	StopLossRate    *float64 `json:"stop_loss_rate,omitempty"`
}

// OrderResponse is the exchange's answer to a new order.
type OrderResponse struct {
	Success         bool      `json:"success"`
	ID              int64     `json:"id"`
	Rate            string    `json:"rate"`
	Amount          string    `json:"amount"`
	OrderType       string    `json:"order_type"`
	Pair            string    `json:"pair"`
	StopLossRate    *string   `json:"stop_loss_rate"`
	MarketBuyAmount *string   `json:"market_buy_amount"`
	TimeInForce     string    `json:"time_in_force"`
	CreatedAt       time.Time `json:"created_at"`
	Error           string    `json:"error"`
}

// OrderDetail is the current remote state of one order.
type OrderDetail struct {
	Success        bool    `json:"success"`
	ID             int64   `json:"id"`
	Pair           string  `json:"pair"`
	OrderType      string  `json:"order_type"`
	Status         string  `json:"status"`
	Rate           *string `json:"rate"`
	Amount         *string `json:"amount"`
	ExecutedAmount *string `json:"executed_amount"`
	Error          string  `json:"error"`
}

// OpenOrder is one entry of the remote open-orders listing.
type OpenOrder struct {
	ID                     int64     `json:"id"`
	OrderType              string    `json:"order_type"`
	Rate                   *string   `json:"rate"`
	Pair                   string    `json:"pair"`
	PendingAmount          *string   `json:"pending_amount"`
	PendingMarketBuyAmount *string   `json:"pending_market_buy_amount"`
	StopLossRate           *string   `json:"stop_loss_rate"`
	CreatedAt              time.Time `json:"created_at"`
}

// OpenOrdersResponse wraps the remote open-orders listing.
type OpenOrdersResponse struct {
	Success bool        `json:"success"`
	Orders  []OpenOrder `json:"orders"`
	Error   string      `json:"error"`
}

// CancelResponse is the exchange's answer to an order cancellation.
type CancelResponse struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id"`
	Error   string `json:"error"`
}

// Funds is the signed amount pair moved by one transaction. Negative
// values mark the side given away.
type Funds struct {
	Btc string `json:"btc"`
	Jpy string `json:"jpy"`
}

// Transaction is one executed trade from the paginated history.
type Transaction struct {
	ID          int64     `json:"id"`
	OrderID     int64     `json:"order_id"`
	Pair        string    `json:"pair"`
	Side        string    `json:"side"`
	Funds       Funds     `json:"funds"`
	Rate        string    `json:"rate"`
	Fee         string    `json:"fee"`
	FeeCurrency *string   `json:"fee_currency"`
	Liquidity   string    `json:"liquidity"` // "T", "M", "itayose"
	CreatedAt   time.Time `json:"created_at"`
}

// TransactionsResponse wraps the paginated transaction history.
type TransactionsResponse struct {
	Success bool          `json:"success"`
	Data    []Transaction `json:"data"`
	Error   string        `json:"error"`
}

// DirectBuy is one over-the-counter purchase. The channel trades a single
// pair, so no pair field is carried.
type DirectBuy struct {
	ID        int64     `json:"id"`
	Amount    string    `json:"amount"` // BTC bought
	Total     string    `json:"total"`  // JPY spent
	Fee       string    `json:"fee"`
	CreatedAt time.Time `json:"created_at"`
}

// BuyHistoryResponse wraps the over-the-counter purchase history.
type BuyHistoryResponse struct {
	Success bool        `json:"success"`
	Buys    []DirectBuy `json:"buys"`
	Error   string      `json:"error"`
}
