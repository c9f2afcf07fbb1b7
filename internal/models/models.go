package models

import "time"

// Order statuses as reported by the exchange.
const (
	OrderStatusNew               = "NEW"
	OrderStatusWaitingForTrigger = "WAITING_FOR_TRIGGER"
	OrderStatusPartiallyFilled   = "PARTIALLY_FILLED"
	OrderStatusCanceled          = "CANCELED"
	OrderStatusCompleted         = "COMPLETED"
)

// Liquidity markers for the sales channel of a purchase.
const (
	LiquidityDirect = "direct" // over-the-counter buy, not matched on the order book
	LiquidityManual = "manual" // entered by hand, no remote counterpart
)

// Order is a locally tracked exchange order. OrderID is the remote
// identifier; ID is the local row key.
type Order struct {
	ID                int64      `json:"id"`
	UserID            string     `json:"user_id"`
	OrderID           int64      `json:"order_id"`
	Pair              string     `json:"pair"`
	OrderType         string     `json:"order_type"` // "buy", "sell", "market_buy", "market_sell"
	Rate              *float64   `json:"rate"`
	Amount            *float64   `json:"amount"`
	MarketBuyAmount   *float64   `json:"market_buy_amount"`
	Status            string     `json:"status"`
	PendingAmount     *float64   `json:"pending_amount"`
	ExecutedAmount    float64    `json:"executed_amount"`
	StopLossRate      *float64   `json:"stop_loss_rate"`
	TimeInForce       string     `json:"time_in_force"`
	ExchangeCreatedAt *time.Time `json:"exchange_created_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Purchase is one executed trade imported into the local ledger.
// Immutable once written; uniqueness is enforced on (UserID, TransactionID).
type Purchase struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	OrderID       int64     `json:"order_id"`
	TransactionID int64     `json:"transaction_id"`
	Pair          string    `json:"pair"`
	Side          string    `json:"order_type"` // "buy" or "sell"
	BtcAmount     float64   `json:"btc_amount"`
	JpyAmount     float64   `json:"jpy_amount"`
	Rate          float64   `json:"rate"`
	Fee           float64   `json:"fee"`
	FeeCurrency   string    `json:"fee_currency"`
	Liquidity     string    `json:"liquidity"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// InvestmentStats is a derived snapshot of accumulated purchases.
// Read-only here; zeros stand in when no snapshot exists yet.
type InvestmentStats struct {
	UserID        string    `json:"user_id"`
	Date          time.Time `json:"date"`
	TotalBtc      float64   `json:"total_btc"`
	TotalJpy      float64   `json:"total_jpy"`
	AverageRate   float64   `json:"average_rate"`
	TotalFee      float64   `json:"total_fee"`
	PurchaseCount int       `json:"purchase_count"`
}

// SyncResult summarizes one sync invocation.
type SyncResult struct {
	Synced  int       `json:"synced_count"`
	Errors  int       `json:"error_count"`
	Skipped int       `json:"skipped_count"`
	Total   int       `json:"total_transactions"`
	Cutoff  time.Time `json:"cutoff_date"`
}
