package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uberbtc/backend/internal/coincheck"
	"github.com/uberbtc/backend/internal/db"
	"github.com/uberbtc/backend/internal/models"
)

// fakeStore is an in-memory db.Store.
type fakeStore struct {
	purchases []models.Purchase
	orders    []models.Order

	canceled      []int64
	statusUpdates []statusUpdate

	insertPurchaseErr map[int64]error // keyed by transaction ID
	lastPurchaseLimit int
	stats             *models.InvestmentStats
}

type statusUpdate struct {
	orderID  int64
	status   string
	executed float64
	pending  *float64
}

var _ db.Store = (*fakeStore)(nil)

func (f *fakeStore) InsertOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	f.orders = append(f.orders, *order)
	return order, nil
}

func (f *fakeStore) MarkOrderCanceled(ctx context.Context, userID string, orderID int64) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, userID string, orderID int64, status string, executedAmount float64, pendingAmount *float64) error {
	f.statusUpdates = append(f.statusUpdates, statusUpdate{orderID, status, executedAmount, pendingAmount})
	return nil
}

func (f *fakeStore) OpenOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return f.orders, nil
}

func (f *fakeStore) PurchaseExists(ctx context.Context, userID string, transactionID int64) (bool, error) {
	for _, p := range f.purchases {
		if p.UserID == userID && p.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) PurchaseExistsByTransactionID(ctx context.Context, transactionID int64) (bool, error) {
	for _, p := range f.purchases {
		if p.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) InsertPurchase(ctx context.Context, p *models.Purchase) (*models.Purchase, error) {
	if err := f.insertPurchaseErr[p.TransactionID]; err != nil {
		return nil, err
	}
	f.purchases = append(f.purchases, *p)
	return p, nil
}

func (f *fakeStore) Purchases(ctx context.Context, userID string, limit int) ([]models.Purchase, error) {
	f.lastPurchaseLimit = limit
	return f.purchases, nil
}

func (f *fakeStore) DeletePurchasesBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	var kept []models.Purchase
	var deleted int64
	for _, p := range f.purchases {
		if p.UserID == userID && p.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	f.purchases = kept
	return deleted, nil
}

func (f *fakeStore) LatestStats(ctx context.Context, userID string) (*models.InvestmentStats, error) {
	return f.stats, nil
}

// fakeExchange returns canned responses.
type fakeExchange struct {
	transactions *coincheck.TransactionsResponse
	buys         *coincheck.BuyHistoryResponse
	orderResp    *coincheck.OrderResponse
	orderDetail  *coincheck.OrderDetail
	cancelResp   *coincheck.CancelResponse
	err          error
}

var _ Exchange = (*fakeExchange)(nil)

func (f *fakeExchange) GetTicker(ctx context.Context, pair string) (*coincheck.Ticker, error) {
	return nil, f.err
}

func (f *fakeExchange) GetOrderBook(ctx context.Context, pair string) (*coincheck.OrderBook, error) {
	return nil, f.err
}

func (f *fakeExchange) GetBalance(ctx context.Context, creds coincheck.Credentials) (*coincheck.Balance, error) {
	return nil, f.err
}

func (f *fakeExchange) CreateOrder(ctx context.Context, creds coincheck.Credentials, req coincheck.OrderRequest) (*coincheck.OrderResponse, error) {
	return f.orderResp, f.err
}

func (f *fakeExchange) GetOrder(ctx context.Context, creds coincheck.Credentials, orderID int64) (*coincheck.OrderDetail, error) {
	return f.orderDetail, f.err
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, creds coincheck.Credentials) (*coincheck.OpenOrdersResponse, error) {
	return nil, f.err
}

func (f *fakeExchange) CancelOrder(ctx context.Context, creds coincheck.Credentials, orderID int64) (*coincheck.CancelResponse, error) {
	return f.cancelResp, f.err
}

func (f *fakeExchange) GetTransactions(ctx context.Context, creds coincheck.Credentials, limit int) (*coincheck.TransactionsResponse, error) {
	return f.transactions, f.err
}

func (f *fakeExchange) GetBuyHistory(ctx context.Context, creds coincheck.Credentials, limit int) (*coincheck.BuyHistoryResponse, error) {
	return f.buys, f.err
}

var testCreds = coincheck.Credentials{Key: "k", Secret: "s"}

// Fixed test time: 2026-09-01 15:30 UTC. Transaction cutoff lands on
// 2026-08-25 00:00 UTC, buy-history cutoff on 2026-08-30 00:00 UTC.
var (
	testNow          = time.Date(2026, 9, 1, 15, 30, 0, 0, time.UTC)
	txCutoff         = time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	buyHistoryCutoff = time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, store db.Store, exchange Exchange) *Service {
	t.Helper()
	svc, err := NewService(store, exchange, zap.NewNop())
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Set(testNow)
	return svc.WithClock(mock)
}

func strPtr(s string) *string { return &s }

func tradeTx(id int64, pair string, at time.Time) coincheck.Transaction {
	return coincheck.Transaction{
		ID:          id,
		OrderID:     id + 1000,
		Pair:        pair,
		Side:        "buy",
		Funds:       coincheck.Funds{Btc: "0.01", Jpy: "-5000"},
		Rate:        "5000000",
		Fee:         "10",
		FeeCurrency: strPtr("jpy"),
		Liquidity:   "T",
		CreatedAt:   at,
	}
}

func TestSyncTransactions_ImportsNew(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{transactions: &coincheck.TransactionsResponse{
		Success: true,
		Data:    []coincheck.Transaction{tradeTx(500, "btc_jpy", testNow.Add(-time.Hour))},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0, result.Skipped)
	assert.Equal(t, 0, result.Errors)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, txCutoff, result.Cutoff)

	require.Len(t, store.purchases, 1)
	p := store.purchases[0]
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, int64(500), p.TransactionID)
	assert.Equal(t, int64(1500), p.OrderID)
	assert.Equal(t, 0.01, p.BtcAmount)
	assert.Equal(t, 5000.0, p.JpyAmount) // negative JPY stored as magnitude
	assert.Equal(t, 5000000.0, p.Rate)
	assert.Equal(t, 10.0, p.Fee)
	assert.Equal(t, "jpy", p.FeeCurrency)
	assert.Equal(t, "T", p.Liquidity)
	assert.Equal(t, "completed", p.Status)
}

func TestSyncTransactions_Idempotent(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{transactions: &coincheck.TransactionsResponse{
		Success: true,
		Data:    []coincheck.Transaction{tradeTx(500, "btc_jpy", testNow.Add(-time.Hour))},
	}}
	svc := newTestService(t, store, exchange)

	first, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Synced)

	second, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Synced)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, store.purchases, 1)
}

func TestSyncTransactions_OnlyNewAfterAppend(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{transactions: &coincheck.TransactionsResponse{
		Success: true,
		Data:    []coincheck.Transaction{tradeTx(500, "btc_jpy", testNow.Add(-time.Hour))},
	}}
	svc := newTestService(t, store, exchange)

	_, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)

	// A new trade lands on the exchange; resyncing picks up only that one.
	exchange.transactions.Data = append(exchange.transactions.Data,
		tradeTx(501, "btc_jpy", testNow.Add(-time.Minute)))

	result, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, store.purchases, 2)
}

func TestSyncTransactions_PairFilter(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{transactions: &coincheck.TransactionsResponse{
		Success: true,
		Data: []coincheck.Transaction{
			tradeTx(500, "etc_jpy", testNow.Add(-time.Hour)),
			tradeTx(501, "btc_jpy", testNow.Add(-time.Hour)),
		},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, store.purchases, 1)
	assert.Equal(t, int64(501), store.purchases[0].TransactionID)
}

func TestSyncTransactions_CutoffBoundary(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{transactions: &coincheck.TransactionsResponse{
		Success: true,
		Data: []coincheck.Transaction{
			tradeTx(500, "btc_jpy", txCutoff),                          // exactly on the cutoff: eligible
			tradeTx(501, "btc_jpy", txCutoff.Add(-time.Millisecond)),   // just before: skipped
		},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, store.purchases, 1)
	assert.Equal(t, int64(500), store.purchases[0].TransactionID)
}

func TestSyncTransactions_DuplicateRace(t *testing.T) {
	// The existence check passes but the insert hits the uniqueness
	// constraint, as under concurrent syncs. Counted as skipped, not error.
	store := &fakeStore{insertPurchaseErr: map[int64]error{500: db.ErrDuplicate}}
	exchange := &fakeExchange{transactions: &coincheck.TransactionsResponse{
		Success: true,
		Data:    []coincheck.Transaction{tradeTx(500, "btc_jpy", testNow.Add(-time.Hour))},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Errors)
}

func TestSyncTransactions_InsertFailureIsolation(t *testing.T) {
	store := &fakeStore{insertPurchaseErr: map[int64]error{500: errors.New("connection reset")}}
	exchange := &fakeExchange{transactions: &coincheck.TransactionsResponse{
		Success: true,
		Data: []coincheck.Transaction{
			tradeTx(500, "btc_jpy", testNow.Add(-time.Hour)),
			tradeTx(501, "btc_jpy", testNow.Add(-time.Hour)),
		},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Errors)
	require.Len(t, store.purchases, 1)
	assert.Equal(t, int64(501), store.purchases[0].TransactionID)
}

func TestSyncTransactions_RemoteFailure(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{err: coincheck.ErrRateLimited}
	svc := newTestService(t, store, exchange)

	_, err := svc.SyncTransactions(context.Background(), testCreds, "user-1", 50)
	assert.ErrorIs(t, err, coincheck.ErrRateLimited)
	assert.Empty(t, store.purchases)
}

func TestSyncBuyHistory_DerivedRate(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{buys: &coincheck.BuyHistoryResponse{
		Success: true,
		Buys: []coincheck.DirectBuy{{
			ID:        700,
			Amount:    "0.02",
			Total:     "100000",
			Fee:       "0",
			CreatedAt: testNow.Add(-time.Hour),
		}},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncBuyHistory(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, buyHistoryCutoff, result.Cutoff)

	require.Len(t, store.purchases, 1)
	p := store.purchases[0]
	assert.Equal(t, 0.02, p.BtcAmount)
	assert.Equal(t, 100000.0, p.JpyAmount)
	assert.Equal(t, 5000000.0, p.Rate)
	assert.Equal(t, "btc_jpy", p.Pair)
	assert.Equal(t, models.LiquidityDirect, p.Liquidity)
	assert.Equal(t, int64(700), p.TransactionID)
	assert.Equal(t, int64(700), p.OrderID)
}

func TestSyncBuyHistory_ZeroAmountRate(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{buys: &coincheck.BuyHistoryResponse{
		Success: true,
		Buys: []coincheck.DirectBuy{{
			ID:        701,
			Amount:    "0",
			Total:     "100000",
			CreatedAt: testNow.Add(-time.Hour),
		}},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncBuyHistory(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 0.0, store.purchases[0].Rate)
}

func TestSyncBuyHistory_Cutoff(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{buys: &coincheck.BuyHistoryResponse{
		Success: true,
		Buys: []coincheck.DirectBuy{
			{ID: 702, Amount: "0.01", Total: "50000", CreatedAt: buyHistoryCutoff},
			{ID: 703, Amount: "0.01", Total: "50000", CreatedAt: buyHistoryCutoff.Add(-time.Second)},
		},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncBuyHistory(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, store.purchases, 1)
	assert.Equal(t, int64(702), store.purchases[0].TransactionID)
}

func TestSyncBuyHistory_DedupByTransactionID(t *testing.T) {
	// The same direct buy already imported for another user still counts
	// as a duplicate: dedup is on the transaction ID alone.
	store := &fakeStore{purchases: []models.Purchase{{UserID: "someone-else", TransactionID: 700}}}
	exchange := &fakeExchange{buys: &coincheck.BuyHistoryResponse{
		Success: true,
		Buys: []coincheck.DirectBuy{{
			ID: 700, Amount: "0.02", Total: "100000", CreatedAt: testNow.Add(-time.Hour),
		}},
	}}
	svc := newTestService(t, store, exchange)

	result, err := svc.SyncBuyHistory(context.Background(), testCreds, "user-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Synced)
	assert.Equal(t, 1, result.Skipped)
}

func TestCreateAndSaveOrder(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{orderResp: &coincheck.OrderResponse{
		Success:   true,
		ID:        12345,
		Rate:      "5000000",
		OrderType: "buy",
		Pair:      "btc_jpy",
		CreatedAt: testNow,
	}}
	svc := newTestService(t, store, exchange)

	amount := 0.01
	order, err := svc.CreateAndSaveOrder(context.Background(), testCreds, "user-1", coincheck.OrderRequest{
		Pair:      "btc_jpy",
		OrderType: "buy",
		Amount:    &amount,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(12345), order.OrderID)
	assert.Equal(t, models.OrderStatusNew, order.Status)
	require.NotNil(t, order.Rate)
	assert.Equal(t, 5000000.0, *order.Rate)
	require.NotNil(t, order.PendingAmount)
	assert.Equal(t, amount, *order.PendingAmount)
	assert.Equal(t, "good_til_cancelled", order.TimeInForce)
	require.NotNil(t, order.ExchangeCreatedAt)
	assert.Equal(t, testNow, *order.ExchangeCreatedAt)
	assert.Len(t, store.orders, 1)
}

func TestCreateAndSaveOrder_RemoteFailureWritesNothing(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{err: &coincheck.RemoteError{Message: "insufficient funds"}}
	svc := newTestService(t, store, exchange)

	_, err := svc.CreateAndSaveOrder(context.Background(), testCreds, "user-1", coincheck.OrderRequest{
		Pair:      "btc_jpy",
		OrderType: "market_buy",
	})
	require.Error(t, err)

	var remoteErr *coincheck.RemoteError
	assert.True(t, errors.As(err, &remoteErr))
	assert.Empty(t, store.orders)
}

func TestCancelAndUpdateOrder(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{cancelResp: &coincheck.CancelResponse{Success: true, ID: 12345}}
	svc := newTestService(t, store, exchange)

	err := svc.CancelAndUpdateOrder(context.Background(), testCreds, "user-1", 12345)
	require.NoError(t, err)
	assert.Equal(t, []int64{12345}, store.canceled)
}

func TestCancelAndUpdateOrder_RemoteFailure(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{err: coincheck.ErrAuthFailed}
	svc := newTestService(t, store, exchange)

	err := svc.CancelAndUpdateOrder(context.Background(), testCreds, "user-1", 12345)
	assert.ErrorIs(t, err, coincheck.ErrAuthFailed)
	assert.Empty(t, store.canceled)
}

func TestUpdateOrderStatus_PendingComputation(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{orderDetail: &coincheck.OrderDetail{
		Success:        true,
		ID:             12345,
		Status:         "open",
		Amount:         strPtr("0.05"),
		ExecutedAmount: strPtr("0.02"),
	}}
	svc := newTestService(t, store, exchange)

	detail, err := svc.UpdateOrderStatus(context.Background(), testCreds, "user-1", 12345)
	require.NoError(t, err)
	assert.Equal(t, "open", detail.Status)

	require.Len(t, store.statusUpdates, 1)
	u := store.statusUpdates[0]
	assert.Equal(t, int64(12345), u.orderID)
	assert.Equal(t, 0.02, u.executed)
	require.NotNil(t, u.pending)
	assert.InDelta(t, 0.03, *u.pending, 1e-9)
}

func TestUpdateOrderStatus_MissingAmountsClearsPending(t *testing.T) {
	store := &fakeStore{}
	exchange := &fakeExchange{orderDetail: &coincheck.OrderDetail{
		Success: true,
		ID:      12345,
		Status:  "complete",
	}}
	svc := newTestService(t, store, exchange)

	_, err := svc.UpdateOrderStatus(context.Background(), testCreds, "user-1", 12345)
	require.NoError(t, err)

	require.Len(t, store.statusUpdates, 1)
	assert.Nil(t, store.statusUpdates[0].pending)
	assert.Equal(t, 0.0, store.statusUpdates[0].executed)
}

func TestAddManualPurchase(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(t, store, &fakeExchange{})

	at := testNow.AddDate(0, -1, 0)
	p1, err := svc.AddManualPurchase(context.Background(), "user-1", 0.02, 100000, 0, at)
	require.NoError(t, err)
	p2, err := svc.AddManualPurchase(context.Background(), "user-1", 0.01, 50000, 0, at)
	require.NoError(t, err)

	assert.Equal(t, 5000000.0, p1.Rate)
	assert.Equal(t, models.LiquidityManual, p1.Liquidity)
	assert.Equal(t, at, p1.CreatedAt)
	assert.Equal(t, p1.OrderID, p1.TransactionID)

	// Surrogate keys never collide, even for back-to-back calls.
	assert.NotEqual(t, p1.TransactionID, p2.TransactionID)
}

func TestAddManualPurchase_ZeroTimeDefaultsToNow(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(t, store, &fakeExchange{})

	p, err := svc.AddManualPurchase(context.Background(), "user-1", 0.01, 50000, 0, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, testNow, p.CreatedAt)
}

func TestGetInvestmentStats_DefaultsWhenAbsent(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(t, store, &fakeExchange{})

	stats, err := svc.GetInvestmentStats(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", stats.UserID)
	assert.Equal(t, 0.0, stats.TotalBtc)
	assert.Equal(t, 0, stats.PurchaseCount)
}

func TestGetPurchaseHistory_DefaultLimit(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(t, store, &fakeExchange{})

	_, err := svc.GetPurchaseHistory(context.Background(), "user-1", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultHistoryLimit, store.lastPurchaseLimit)
}

func TestDeletePurchasesBefore(t *testing.T) {
	store := &fakeStore{purchases: []models.Purchase{
		{UserID: "user-1", TransactionID: 1, CreatedAt: testNow.AddDate(0, 0, -10)},
		{UserID: "user-1", TransactionID: 2, CreatedAt: testNow.AddDate(0, 0, -1)},
	}}
	svc := newTestService(t, store, &fakeExchange{})

	deleted, err := svc.DeletePurchasesBefore(context.Background(), "user-1", testNow.AddDate(0, 0, -5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	require.Len(t, store.purchases, 1)
	assert.Equal(t, int64(2), store.purchases[0].TransactionID)
}
