package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uberbtc/backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicate marks an insert that hit the (user_id, transaction_id)
// uniqueness constraint. The constraint, not the pre-insert existence
// check, is the authoritative duplicate guard.
var ErrDuplicate = errors.New("duplicate record")

// Store is the persistence boundary used by the sync engine. All reads and
// writes are scoped by user ID; no call crosses user boundaries.
type Store interface {
	InsertOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	MarkOrderCanceled(ctx context.Context, userID string, orderID int64) error
	UpdateOrderStatus(ctx context.Context, userID string, orderID int64, status string, executedAmount float64, pendingAmount *float64) error
	OpenOrders(ctx context.Context, userID string) ([]models.Order, error)

	PurchaseExists(ctx context.Context, userID string, transactionID int64) (bool, error)
	PurchaseExistsByTransactionID(ctx context.Context, transactionID int64) (bool, error)
	InsertPurchase(ctx context.Context, p *models.Purchase) (*models.Purchase, error)
	Purchases(ctx context.Context, userID string, limit int) ([]models.Purchase, error)
	DeletePurchasesBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error)

	LatestStats(ctx context.Context, userID string) (*models.InvestmentStats, error)
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres initializes a new database connection pool.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

// Close closes the database connection pool.
func (db *Postgres) Close() {
	db.Pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// InsertOrder inserts a new local order row.
func (db *Postgres) InsertOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	saved := &models.Order{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO orders (user_id, order_id, pair, order_type, rate, amount, market_buy_amount,
		                     status, pending_amount, executed_amount, stop_loss_rate, time_in_force, exchange_created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, user_id, order_id, pair, order_type, rate, amount, market_buy_amount,
		           status, pending_amount, executed_amount, stop_loss_rate, time_in_force,
		           exchange_created_at, created_at, updated_at`,
		order.UserID, order.OrderID, order.Pair, order.OrderType, order.Rate, order.Amount,
		order.MarketBuyAmount, order.Status, order.PendingAmount, order.ExecutedAmount,
		order.StopLossRate, order.TimeInForce, order.ExchangeCreatedAt).Scan(
		&saved.ID, &saved.UserID, &saved.OrderID, &saved.Pair, &saved.OrderType, &saved.Rate,
		&saved.Amount, &saved.MarketBuyAmount, &saved.Status, &saved.PendingAmount,
		&saved.ExecutedAmount, &saved.StopLossRate, &saved.TimeInForce, &saved.ExchangeCreatedAt,
		&saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	return saved, nil
}

// MarkOrderCanceled sets an order's status to CANCELED.
func (db *Postgres) MarkOrderCanceled(ctx context.Context, userID string, orderID int64) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE user_id = $2 AND order_id = $3",
		models.OrderStatusCanceled, userID, orderID)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found or not owned by user")
	}
	return nil
}

// UpdateOrderStatus overwrites status, executed amount and pending amount
// from a fresh remote snapshot.
func (db *Postgres) UpdateOrderStatus(ctx context.Context, userID string, orderID int64, status string, executedAmount float64, pendingAmount *float64) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE orders SET status = $1, executed_amount = $2, pending_amount = $3, updated_at = NOW()
		 WHERE user_id = $4 AND order_id = $5`,
		status, executedAmount, pendingAmount, userID, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found or not owned by user")
	}
	return nil
}

// OpenOrders retrieves a user's unsettled orders, newest first.
func (db *Postgres) OpenOrders(ctx context.Context, userID string) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, order_id, pair, order_type, rate, amount, market_buy_amount,
		        status, pending_amount, executed_amount, stop_loss_rate, time_in_force,
		        exchange_created_at, created_at, updated_at
		 FROM orders
		 WHERE user_id = $1 AND status = ANY($2)
		 ORDER BY created_at DESC`,
		userID, []string{models.OrderStatusNew, models.OrderStatusWaitingForTrigger, models.OrderStatusPartiallyFilled})
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.OrderID, &o.Pair, &o.OrderType, &o.Rate,
			&o.Amount, &o.MarketBuyAmount, &o.Status, &o.PendingAmount, &o.ExecutedAmount,
			&o.StopLossRate, &o.TimeInForce, &o.ExchangeCreatedAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// PurchaseExists reports whether a purchase record exists for the
// (userID, transactionID) pair. Point lookup, fast path only.
func (db *Postgres) PurchaseExists(ctx context.Context, userID string, transactionID int64) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM purchases WHERE user_id = $1 AND transaction_id = $2)",
		userID, transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check purchase existence: %w", err)
	}
	return exists, nil
}

// PurchaseExistsByTransactionID reports whether any purchase carries the
// transaction ID. The direct-buy channel keys dedup on the ID alone.
func (db *Postgres) PurchaseExistsByTransactionID(ctx context.Context, transactionID int64) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM purchases WHERE transaction_id = $1)",
		transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check purchase existence: %w", err)
	}
	return exists, nil
}

// InsertPurchase inserts one purchase record. Returns ErrDuplicate when the
// uniqueness constraint rejects it.
func (db *Postgres) InsertPurchase(ctx context.Context, p *models.Purchase) (*models.Purchase, error) {
	saved := &models.Purchase{}
	err := db.Pool.QueryRow(ctx,
		`INSERT INTO purchases (user_id, order_id, transaction_id, pair, order_type, btc_amount,
		                        jpy_amount, rate, fee, fee_currency, liquidity, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, user_id, order_id, transaction_id, pair, order_type, btc_amount,
		           jpy_amount, rate, fee, fee_currency, liquidity, status, created_at`,
		p.UserID, p.OrderID, p.TransactionID, p.Pair, p.Side, p.BtcAmount, p.JpyAmount,
		p.Rate, p.Fee, p.FeeCurrency, p.Liquidity, p.Status, p.CreatedAt).Scan(
		&saved.ID, &saved.UserID, &saved.OrderID, &saved.TransactionID, &saved.Pair, &saved.Side,
		&saved.BtcAmount, &saved.JpyAmount, &saved.Rate, &saved.Fee, &saved.FeeCurrency,
		&saved.Liquidity, &saved.Status, &saved.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert purchase: %w", err)
	}
	return saved, nil
}

// Purchases retrieves a user's purchase history, newest first.
func (db *Postgres) Purchases(ctx context.Context, userID string, limit int) ([]models.Purchase, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, order_id, transaction_id, pair, order_type, btc_amount,
		        jpy_amount, rate, fee, fee_currency, liquidity, status, created_at
		 FROM purchases
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get purchases: %w", err)
	}
	defer rows.Close()

	var purchases []models.Purchase
	for rows.Next() {
		var p models.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.OrderID, &p.TransactionID, &p.Pair, &p.Side,
			&p.BtcAmount, &p.JpyAmount, &p.Rate, &p.Fee, &p.FeeCurrency, &p.Liquidity,
			&p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

// DeletePurchasesBefore removes a user's purchases older than cutoff and
// returns the number deleted.
func (db *Postgres) DeletePurchasesBefore(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		"DELETE FROM purchases WHERE user_id = $1 AND created_at < $2",
		userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete purchases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LatestStats retrieves the most recent stats snapshot for a user, or nil
// when none exists.
func (db *Postgres) LatestStats(ctx context.Context, userID string) (*models.InvestmentStats, error) {
	stats := &models.InvestmentStats{}
	err := db.Pool.QueryRow(ctx,
		`SELECT user_id, date, total_btc, total_jpy, average_rate, total_fee, purchase_count
		 FROM investment_stats
		 WHERE user_id = $1
		 ORDER BY date DESC
		 LIMIT 1`,
		userID).Scan(&stats.UserID, &stats.Date, &stats.TotalBtc, &stats.TotalJpy,
		&stats.AverageRate, &stats.TotalFee, &stats.PurchaseCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}
