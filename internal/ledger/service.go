package ledger

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/uberbtc/backend/internal/coincheck"
	"github.com/uberbtc/backend/internal/db"
	"github.com/uberbtc/backend/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// SupportedPair is the only trading pair imported from the order-book
// transaction history.
const SupportedPair = "btc_jpy"

// Recency windows, in days back from UTC midnight of the current day.
// Both cutoffs are inclusive lower bounds.
const (
	transactionWindowDays = 7
	buyHistoryWindowDays  = 2
)

const defaultHistoryLimit = 50

// Exchange is the remote API surface the service needs. Implemented by
// *coincheck.Client; faked in tests.
type Exchange interface {
	GetTicker(ctx context.Context, pair string) (*coincheck.Ticker, error)
	GetOrderBook(ctx context.Context, pair string) (*coincheck.OrderBook, error)
	GetBalance(ctx context.Context, creds coincheck.Credentials) (*coincheck.Balance, error)
	CreateOrder(ctx context.Context, creds coincheck.Credentials, req coincheck.OrderRequest) (*coincheck.OrderResponse, error)
	GetOrder(ctx context.Context, creds coincheck.Credentials, orderID int64) (*coincheck.OrderDetail, error)
	GetOpenOrders(ctx context.Context, creds coincheck.Credentials) (*coincheck.OpenOrdersResponse, error)
	CancelOrder(ctx context.Context, creds coincheck.Credentials, orderID int64) (*coincheck.CancelResponse, error)
	GetTransactions(ctx context.Context, creds coincheck.Credentials, limit int) (*coincheck.TransactionsResponse, error)
	GetBuyHistory(ctx context.Context, creds coincheck.Credentials, limit int) (*coincheck.BuyHistoryResponse, error)
}

// Service reconciles remote exchange state into the local ledger and
// serves the read-side projections over it.
type Service struct {
	store    db.Store
	exchange Exchange
	clock    clock.Clock
	ids      *snowflake.Node
	log      *zap.Logger
}

// NewService creates a sync service. The snowflake node issues surrogate
// keys for manually entered purchases.
func NewService(store db.Store, exchange Exchange, log *zap.Logger) (*Service, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:    store,
		exchange: exchange,
		clock:    clock.New(),
		ids:      node,
		log:      log,
	}, nil
}

// WithClock substitutes the wall clock. Test hook.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// cutoff returns UTC midnight of the current day, minus days.
func (s *Service) cutoff(days int) time.Time {
	now := s.clock.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -days)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(v, 64)
	return f
}

func parseFloatPtr(v *string) *float64 {
	if v == nil || *v == "" {
		return nil
	}
	f := parseFloat(*v)
	return &f
}

// SyncTransactions imports up to limit recent order-book transactions into
// the purchases ledger. Per item: pair filter, recency cutoff, duplicate
// check, insert. One item's failure never aborts the batch; failures are
// counted and reported in the result.
func (s *Service) SyncTransactions(ctx context.Context, creds coincheck.Credentials, userID string, limit int) (*models.SyncResult, error) {
	resp, err := s.exchange.GetTransactions(ctx, creds, limit)
	if err != nil {
		return nil, err
	}

	cutoff := s.cutoff(transactionWindowDays)
	result := &models.SyncResult{Total: len(resp.Data), Cutoff: cutoff}

	for _, tx := range resp.Data {
		if tx.Pair != SupportedPair {
			result.Skipped++
			continue
		}
		if tx.CreatedAt.Before(cutoff) {
			result.Skipped++
			continue
		}

		exists, err := s.store.PurchaseExists(ctx, userID, tx.ID)
		if err != nil {
			s.log.Warn("purchase existence check failed",
				zap.Int64("transaction_id", tx.ID), zap.Error(err))
			result.Errors++
			continue
		}
		if exists {
			result.Skipped++
			continue
		}

		feeCurrency := ""
		if tx.FeeCurrency != nil {
			feeCurrency = *tx.FeeCurrency
		}
		p := &models.Purchase{
			UserID:        userID,
			OrderID:       tx.OrderID,
			TransactionID: tx.ID,
			Pair:          tx.Pair,
			Side:          tx.Side,
			BtcAmount:     math.Abs(parseFloat(tx.Funds.Btc)),
			JpyAmount:     math.Abs(parseFloat(tx.Funds.Jpy)),
			Rate:          parseFloat(tx.Rate),
			Fee:           math.Abs(parseFloat(tx.Fee)),
			FeeCurrency:   feeCurrency,
			Liquidity:     tx.Liquidity,
			Status:        "completed",
			CreatedAt:     tx.CreatedAt,
		}

		if _, err := s.store.InsertPurchase(ctx, p); err != nil {
			// A concurrent sync may win the race between the existence
			// check and the insert; the uniqueness constraint settles it.
			if errors.Is(err, db.ErrDuplicate) {
				result.Skipped++
				continue
			}
			s.log.Warn("purchase insert failed",
				zap.Int64("transaction_id", tx.ID), zap.Error(err))
			result.Errors++
			continue
		}
		result.Synced++
	}

	return result, nil
}

// SyncBuyHistory imports recent over-the-counter purchases. The channel is
// single-pair, so there is no pair filter, dedup is keyed on the
// transaction ID alone, and the rate is derived from the amounts.
func (s *Service) SyncBuyHistory(ctx context.Context, creds coincheck.Credentials, userID string, limit int) (*models.SyncResult, error) {
	resp, err := s.exchange.GetBuyHistory(ctx, creds, limit)
	if err != nil {
		return nil, err
	}

	cutoff := s.cutoff(buyHistoryWindowDays)
	result := &models.SyncResult{Total: len(resp.Buys), Cutoff: cutoff}

	for _, buy := range resp.Buys {
		if buy.CreatedAt.Before(cutoff) {
			result.Skipped++
			continue
		}

		exists, err := s.store.PurchaseExistsByTransactionID(ctx, buy.ID)
		if err != nil {
			s.log.Warn("purchase existence check failed",
				zap.Int64("transaction_id", buy.ID), zap.Error(err))
			result.Errors++
			continue
		}
		if exists {
			result.Skipped++
			continue
		}

		btc := math.Abs(parseFloat(buy.Amount))
		jpy := math.Abs(parseFloat(buy.Total))
		rate := 0.0
		if btc != 0 {
			rate = jpy / btc
		}

		p := &models.Purchase{
			UserID:        userID,
			OrderID:       buy.ID,
			TransactionID: buy.ID,
			Pair:          SupportedPair,
			Side:          "buy",
			BtcAmount:     btc,
			JpyAmount:     jpy,
			Rate:          rate,
			Fee:           math.Abs(parseFloat(buy.Fee)),
			FeeCurrency:   "jpy",
			Liquidity:     models.LiquidityDirect,
			Status:        "completed",
			CreatedAt:     buy.CreatedAt,
		}

		if _, err := s.store.InsertPurchase(ctx, p); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				result.Skipped++
				continue
			}
			s.log.Warn("purchase insert failed",
				zap.Int64("transaction_id", buy.ID), zap.Error(err))
			result.Errors++
			continue
		}
		result.Synced++
	}

	return result, nil
}

// CreateAndSaveOrder places a remote order and records it locally. A remote
// failure short-circuits: nothing is written.
func (s *Service) CreateAndSaveOrder(ctx context.Context, creds coincheck.Credentials, userID string, req coincheck.OrderRequest) (*models.Order, error) {
	resp, err := s.exchange.CreateOrder(ctx, creds, req)
	if err != nil {
		return nil, err
	}

	timeInForce := resp.TimeInForce
	if timeInForce == "" {
		timeInForce = "good_til_cancelled"
	}

	var rate *float64
	if resp.Rate != "" {
		r := parseFloat(resp.Rate)
		rate = &r
	}

	var exchangeCreatedAt *time.Time
	if !resp.CreatedAt.IsZero() {
		t := resp.CreatedAt
		exchangeCreatedAt = &t
	}

	order := &models.Order{
		UserID:            userID,
		OrderID:           resp.ID,
		Pair:              resp.Pair,
		OrderType:         resp.OrderType,
		Rate:              rate,
		Amount:            req.Amount,
		MarketBuyAmount:   req.MarketBuyAmount,
		Status:            models.OrderStatusNew,
		PendingAmount:     req.Amount,
		ExecutedAmount:    0,
		StopLossRate:      parseFloatPtr(resp.StopLossRate),
		TimeInForce:       timeInForce,
		ExchangeCreatedAt: exchangeCreatedAt,
	}

	saved, err := s.store.InsertOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// CancelAndUpdateOrder cancels remotely, then marks the local row CANCELED.
// A remote failure short-circuits.
func (s *Service) CancelAndUpdateOrder(ctx context.Context, creds coincheck.Credentials, userID string, orderID int64) error {
	if _, err := s.exchange.CancelOrder(ctx, creds, orderID); err != nil {
		return err
	}
	return s.store.MarkOrderCanceled(ctx, userID, orderID)
}

// UpdateOrderStatus refreshes one order's local row from its remote state.
// Pending amount is recomputed as amount minus executed when both are
// reported, and cleared otherwise.
func (s *Service) UpdateOrderStatus(ctx context.Context, creds coincheck.Credentials, userID string, orderID int64) (*coincheck.OrderDetail, error) {
	detail, err := s.exchange.GetOrder(ctx, creds, orderID)
	if err != nil {
		return nil, err
	}

	var executed float64
	if detail.ExecutedAmount != nil {
		executed = parseFloat(*detail.ExecutedAmount)
	}

	var pending *float64
	if detail.Amount != nil && detail.ExecutedAmount != nil {
		p := parseFloat(*detail.Amount) - executed
		pending = &p
	}

	if err := s.store.UpdateOrderStatus(ctx, userID, orderID, detail.Status, executed, pending); err != nil {
		return nil, err
	}
	return detail, nil
}

// AddManualPurchase records a caller-entered historical purchase with no
// remote counterpart. The surrogate key comes from a snowflake node, not
// the wall clock, so rapid calls cannot collide.
func (s *Service) AddManualPurchase(ctx context.Context, userID string, btcAmount, jpyAmount, fee float64, purchasedAt time.Time) (*models.Purchase, error) {
	id := s.ids.Generate().Int64()

	rate := 0.0
	if btcAmount != 0 {
		rate = jpyAmount / btcAmount
	}

	if purchasedAt.IsZero() {
		purchasedAt = s.clock.Now().UTC()
	}

	p := &models.Purchase{
		UserID:        userID,
		OrderID:       id,
		TransactionID: id,
		Pair:          SupportedPair,
		Side:          "buy",
		BtcAmount:     btcAmount,
		JpyAmount:     jpyAmount,
		Rate:          rate,
		Fee:           fee,
		FeeCurrency:   "jpy",
		Liquidity:     models.LiquidityManual,
		Status:        "completed",
		CreatedAt:     purchasedAt,
	}

	return s.store.InsertPurchase(ctx, p)
}

// DeletePurchasesBefore removes the user's purchases older than cutoff and
// returns the number deleted.
func (s *Service) DeletePurchasesBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	return s.store.DeletePurchasesBefore(ctx, userID, cutoff)
}

// GetInvestmentStats returns the latest stats snapshot, or a zeroed record
// when none has been computed yet.
func (s *Service) GetInvestmentStats(ctx context.Context, userID string) (*models.InvestmentStats, error) {
	stats, err := s.store.LatestStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return &models.InvestmentStats{UserID: userID}, nil
	}
	return stats, nil
}

// GetPurchaseHistory returns the user's purchases, newest first.
func (s *Service) GetPurchaseHistory(ctx context.Context, userID string, limit int) ([]models.Purchase, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.Purchases(ctx, userID, limit)
}

// GetOpenOrders returns the user's locally tracked unsettled orders.
func (s *Service) GetOpenOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return s.store.OpenOrders(ctx, userID)
}
