// Package store provides data persistence implementations.
package store

import (
	"context"
	"time"

	"fiona-trader/internal/models"
)

// TradeFilter narrows trade queries.
type TradeFilter struct {
	Epic      string
	Status    models.TradeStatus
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// TradeStore persists executed trades, shadow trades and market snapshots.
// Callers treat writes as best-effort: a failed write is logged and the
// decision flow continues.
type TradeStore interface {
	StoreTrade(ctx context.Context, trade *models.ExecutedTrade) error
	StoreShadowTrade(ctx context.Context, trade *models.ShadowTrade) error
	StoreMarketSnapshot(ctx context.Context, snapshot *models.MarketSnapshot) error

	Trades(ctx context.Context, filter TradeFilter) ([]models.ExecutedTrade, error)
	ShadowTrades(ctx context.Context, filter TradeFilter) ([]models.ShadowTrade, error)
	SnapshotsForTrade(ctx context.Context, tradeID string) ([]models.MarketSnapshot, error)

	Close() error
}
