package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/uberbtc/backend/internal/coincheck"
	"github.com/uberbtc/backend/internal/ledger"
	"github.com/uberbtc/backend/internal/models"
	"github.com/uberbtc/backend/internal/pricecache"
)

// Handler contains dependencies for HTTP handlers.
type Handler struct {
	Service  *ledger.Service
	Exchange ledger.Exchange
	Prices   *pricecache.Cache
	Log      *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *ledger.Service, ex ledger.Exchange, prices *pricecache.Cache, log *zap.Logger) *Handler {
	return &Handler{Service: svc, Exchange: ex, Prices: prices, Log: log}
}

type ctxKey int

const (
	userIDKey ctxKey = iota
	credsKey
)

func userFromContext(ctx context.Context) (string, coincheck.Credentials, bool) {
	userID, ok1 := ctx.Value(userIDKey).(string)
	creds, ok2 := ctx.Value(credsKey).(coincheck.Credentials)
	return userID, creds, ok1 && ok2
}

// Routes assembles the full REST surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.requestLogger)

	r.Get("/health", h.Health)

	// Public market data, no credentials.
	r.Get("/api/ticker", h.GetTicker)
	r.Get("/api/orderbook", h.GetOrderBook)
	r.Get("/api/price-change", h.GetPriceChange)

	// Everything else requires the per-request credential headers.
	r.Group(func(r chi.Router) {
		r.Use(h.CredentialsMiddleware)
		r.Get("/api/balance", h.GetBalance)
		r.Post("/api/orders", h.PlaceOrder)
		r.Delete("/api/orders/{orderID}", h.CancelOrder)
		r.Put("/api/orders/{orderID}/status", h.UpdateOrderStatus)
		r.Get("/api/orders/open", h.GetOpenOrders)
		r.Post("/api/sync/transactions", h.SyncTransactions)
		r.Post("/api/sync/buy-history", h.SyncBuyHistory)
		r.Get("/api/stats", h.GetStats)
		r.Get("/api/purchases", h.GetPurchases)
		r.Post("/api/purchases/manual", h.AddManualPurchase)
		r.Delete("/api/purchases", h.DeletePurchases)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.Log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

// CredentialsMiddleware pulls the user identifier and exchange credential
// pair from headers. Missing any of the three rejects the request before a
// single remote call is attempted. Credentials are never stored.
func (h *Handler) CredentialsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("x-user-id")
		apiKey := r.Header.Get("x-api-key")
		apiSecret := r.Header.Get("x-api-secret")

		if userID == "" || apiKey == "" || apiSecret == "" {
			writeError(w, http.StatusUnauthorized, "missing credentials (x-user-id, x-api-key, x-api-secret)")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, credsKey, coincheck.Credentials{Key: apiKey, Secret: apiSecret})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// respondError maps the error taxonomy to an HTTP status and the uniform
// envelope. A non-2xx remote body keeps its details alongside the message.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var apiErr *coincheck.APIError
	var remoteErr *coincheck.RemoteError

	switch {
	case errors.Is(err, coincheck.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, coincheck.ErrAuthFailed):
		writeError(w, http.StatusBadGateway, "authentication failed")
	case errors.Is(err, coincheck.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   apiErr.Error(),
			"details": apiErr.Body,
		})
	case errors.As(err, &remoteErr):
		writeError(w, http.StatusBadGateway, remoteErr.Message)
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "uberbtc backend",
	})
}

// GetTicker proxies the public ticker.
func (h *Handler) GetTicker(w http.ResponseWriter, r *http.Request) {
	ticker, err := h.Exchange.GetTicker(r.Context(), r.URL.Query().Get("pair"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ticker": ticker})
}

// GetOrderBook proxies the public order book.
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.Exchange.GetOrderBook(r.Context(), r.URL.Query().Get("pair"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orderbook": book})
}

// GetPriceChange serves the cached price-change percentage.
func (h *Handler) GetPriceChange(w http.ResponseWriter, r *http.Request) {
	change, stale, err := h.Prices.Get(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"change_percent": change,
		"stale":          stale,
	})
}

// GetBalance proxies the account balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	_, creds, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	balance, err := h.Exchange.GetBalance(r.Context(), creds)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "balance": balance})
}

// PlaceOrder places a remote order and records it locally.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, creds, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req coincheck.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.Service.CreateAndSaveOrder(r.Context(), creds, userID, req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"order":   order,
		"saved":   true,
	})
}

func orderIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
}

// CancelOrder cancels remotely then marks the local row CANCELED.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, creds, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	if err := h.Service.CancelAndUpdateOrder(r.Context(), creds, userID, orderID); err != nil {
		h.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "order canceled",
		"order_id": orderID,
	})
}

// UpdateOrderStatus refreshes one order's local state from the exchange.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	userID, creds, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	detail, err := h.Service.UpdateOrderStatus(r.Context(), creds, userID, orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "order": detail})
}

// GetOpenOrders lists the user's locally tracked unsettled orders.
func (h *Handler) GetOpenOrders(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	orders, err := h.Service.GetOpenOrders(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orders": orders})
}

type syncRequest struct {
	Limit int `json:"limit"`
}

// SyncTransactions imports recent order-book transactions.
func (h *Handler) SyncTransactions(w http.ResponseWriter, r *http.Request) {
	userID, creds, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req syncRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body means defaults
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	result, err := h.Service.SyncTransactions(r.Context(), creds, userID, req.Limit)
	if err != nil {
		h.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"message":            strconv.Itoa(result.Synced) + " transactions synced",
		"synced_count":       result.Synced,
		"error_count":        result.Errors,
		"skipped_count":      result.Skipped,
		"total_transactions": result.Total,
		"cutoff_date":        result.Cutoff.Format(time.RFC3339),
	})
}

// SyncBuyHistory imports recent over-the-counter purchases.
func (h *Handler) SyncBuyHistory(w http.ResponseWriter, r *http.Request) {
	userID, creds, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req syncRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	result, err := h.Service.SyncBuyHistory(r.Context(), creds, userID, req.Limit)
	if err != nil {
		h.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"message":            strconv.Itoa(result.Synced) + " purchases synced",
		"synced_count":       result.Synced,
		"error_count":        result.Errors,
		"skipped_count":      result.Skipped,
		"total_transactions": result.Total,
		"cutoff_date":        result.Cutoff.Format(time.RFC3339),
	})
}

// GetStats returns the latest investment stats snapshot.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.Service.GetInvestmentStats(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats})
}

// GetPurchases returns the user's purchase history, newest first.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	purchases, err := h.Service.GetPurchaseHistory(r.Context(), userID, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if purchases == nil {
		purchases = []models.Purchase{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "purchases": purchases})
}

type manualPurchaseRequest struct {
	BtcAmount   float64 `json:"btc_amount"`
	JpyAmount   float64 `json:"jpy_amount"`
	Fee         float64 `json:"fee"`
	PurchasedAt string  `json:"purchased_at"`
}

// AddManualPurchase records a caller-entered historical purchase.
func (h *Handler) AddManualPurchase(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req manualPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BtcAmount <= 0 || req.JpyAmount <= 0 {
		writeError(w, http.StatusBadRequest, "btc_amount and jpy_amount must be positive")
		return
	}

	var purchasedAt time.Time
	if req.PurchasedAt != "" {
		t, err := time.Parse(time.RFC3339, req.PurchasedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "purchased_at must be RFC3339")
			return
		}
		purchasedAt = t
	}

	purchase, err := h.Service.AddManualPurchase(r.Context(), userID, req.BtcAmount, req.JpyAmount, req.Fee, purchasedAt)
	if err != nil {
		h.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "purchase": purchase})
}

// DeletePurchases bulk-deletes the user's purchases older than the given
// cutoff date.
func (h *Handler) DeletePurchases(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	before := r.URL.Query().Get("before")
	if before == "" {
		writeError(w, http.StatusBadRequest, "before query parameter is required")
		return
	}
	cutoff, err := time.Parse(time.RFC3339, before)
	if err != nil {
		writeError(w, http.StatusBadRequest, "before must be RFC3339")
		return
	}

	deleted, err := h.Service.DeletePurchasesBefore(r.Context(), userID, cutoff)
	if err != nil {
		h.respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted_count": deleted})
}
