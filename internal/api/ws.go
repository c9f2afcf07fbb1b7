package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uberbtc/backend/internal/ledger"
)

// TickerFeed pushes public ticker snapshots to websocket clients on a
// fixed interval. All writes happen from the Run goroutine, so connections
// need no per-connection write lock.
type TickerFeed struct {
	exchange ledger.Exchange
	pair     string
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewTickerFeed(exchange ledger.Exchange, pair string, log *zap.Logger) *TickerFeed {
	return &TickerFeed{
		exchange: exchange,
		pair:     pair,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handle upgrades the connection and keeps it registered until the peer
// goes away.
func (f *TickerFeed) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	f.mu.Lock()
	f.conns[conn] = struct{}{}
	f.mu.Unlock()

	// Drain reads to detect disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.mu.Lock()
	delete(f.conns, conn)
	f.mu.Unlock()
	conn.Close()
}

// Run polls the ticker and broadcasts each snapshot until ctx is done.
func (f *TickerFeed) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.broadcast(ctx)
		}
	}
}

func (f *TickerFeed) broadcast(ctx context.Context) {
	snapshot, err := f.exchange.GetTicker(ctx, f.pair)
	if err != nil {
		f.log.Warn("ticker fetch failed", zap.Error(err))
		return
	}

	data, err := json.Marshal(map[string]any{"pair": f.pair, "ticker": snapshot})
	if err != nil {
		f.log.Warn("ticker marshal failed", zap.Error(err))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for conn := range f.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			f.log.Warn("ticker send failed", zap.Error(err))
			delete(f.conns, conn)
			conn.Close()
		}
	}
}
