package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fiona-trader/internal/broker"
	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
	"fiona-trader/internal/store"
)

// ShadowTrader tracks simulated positions against real market prices. It
// never places a broker order; exits come from price comparison, manual
// close or a time-based close.
type ShadowTrader struct {
	brokers *broker.Registry
	store   store.TradeStore
	log     zerolog.Logger

	mu   sync.RWMutex
	open map[string]*models.ShadowTrade

	// onExit is invoked after a trade closes, outside the lock. The
	// service uses it to advance the owning session.
	onExit func(trade *models.ShadowTrade)
}

// NewShadowTrader creates a shadow trader. The store may be nil; writes are
// best-effort either way.
func NewShadowTrader(brokers *broker.Registry, st store.TradeStore, log zerolog.Logger) *ShadowTrader {
	return &ShadowTrader{
		brokers: brokers,
		store:   st,
		log:     log.With().Str("component", "shadow_trader").Logger(),
		open:    make(map[string]*models.ShadowTrade),
	}
}

// SetExitHook registers the callback invoked when a shadow trade closes.
func (t *ShadowTrader) SetExitHook(fn func(trade *models.ShadowTrade)) {
	t.onExit = fn
}

// Open starts tracking a shadow trade built from an effective order. The
// skip reason records why this is a shadow rather than a live trade: risk
// denial, user choice or no-broker mode.
func (t *ShadowTrader) Open(ctx context.Context, setupID, advisorEvalID string, order models.OrderRequest, entryPrice float64, skipReason, currency string) *models.ShadowTrade {
	now := time.Now().UTC()
	trade := &models.ShadowTrade{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		SetupID:       setupID,
		AdvisorEvalID: advisorEvalID,
		Epic:          order.Epic,
		Direction:     models.DirectionFromOrder(order.Direction),
		Size:          order.Size,
		EntryPrice:    entryPrice,
		StopLoss:      order.StopLoss,
		TakeProfit:    order.TakeProfit,
		Status:        models.TradeOpen,
		OpenedAt:      now,
		SkipReason:    skipReason,
		Meta:          make(map[string]string),
	}

	t.mu.Lock()
	t.open[trade.ID] = trade
	t.mu.Unlock()

	t.persist(ctx, trade)
	t.log.Info().
		Str("trade_id", trade.ID).
		Str("epic", trade.Epic).
		Str("direction", string(trade.Direction)).
		Float64("entry", entryPrice).
		Str("skip_reason", skipReason).
		Msg("shadow trade opened")

	return trade
}

// OpenTrades returns copies of the currently tracked shadow trades.
func (t *ShadowTrader) OpenTrades() []models.ShadowTrade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.ShadowTrade, 0, len(t.open))
	for _, trade := range t.open {
		out = append(out, *trade)
	}
	return out
}

// exitCondition evaluates the simulated exit rules against a price. For a
// long position the stop is hit at price <= stop and the target at
// price >= target; mirrored for short. The stop is checked first.
func exitCondition(trade *models.ShadowTrade, price float64) (models.ExitReason, bool) {
	long := trade.Direction == models.Long

	if trade.StopLoss != nil {
		if (long && price <= *trade.StopLoss) || (!long && price >= *trade.StopLoss) {
			return models.ExitSLHit, true
		}
	}
	if trade.TakeProfit != nil {
		if (long && price >= *trade.TakeProfit) || (!long && price <= *trade.TakeProfit) {
			return models.ExitTPHit, true
		}
	}
	return "", false
}

// theoreticalPnL computes the simulated result: (exit-entry)*size, sign
// flipped for shorts.
func theoreticalPnL(trade *models.ShadowTrade, exitPrice float64) (pnl, percent float64) {
	pnl = (exitPrice - trade.EntryPrice) * trade.Size
	if trade.Direction == models.Short {
		pnl = -pnl
	}
	if notional := trade.EntryPrice * trade.Size; notional != 0 {
		percent = pnl / notional * 100
	}
	return pnl, percent
}

// PollExits fetches current prices for all open shadow trades and closes
// those whose exit condition is met. It returns the trades closed in this
// cycle. Quote failures are logged and skipped; the loop continues.
func (t *ShadowTrader) PollExits(ctx context.Context) []*models.ShadowTrade {
	var exited []*models.ShadowTrade

	for _, snapshot := range t.OpenTrades() {
		b, err := t.brokers.ForEpic(snapshot.Epic)
		if err != nil {
			t.log.Debug().Str("epic", snapshot.Epic).Msg("no price source for shadow trade")
			continue
		}
		price, err := b.SymbolPrice(ctx, snapshot.Epic)
		if err != nil {
			t.log.Warn().Err(err).Str("epic", snapshot.Epic).Msg("shadow exit poll: quote failed")
			continue
		}

		reason, hit := exitCondition(&snapshot, price.Mid())
		if !hit {
			continue
		}
		trade, err := t.Close(ctx, snapshot.ID, price.Mid(), reason)
		if err != nil {
			t.log.Warn().Err(err).Str("trade_id", snapshot.ID).Msg("shadow exit close failed")
			continue
		}
		exited = append(exited, trade)
	}

	return exited
}

// Close closes an open shadow trade at the given price with the given
// reason and computes the theoretical result.
func (t *ShadowTrader) Close(ctx context.Context, tradeID string, exitPrice float64, reason models.ExitReason) (*models.ShadowTrade, error) {
	t.mu.Lock()
	trade, ok := t.open[tradeID]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errors.ErrTradeNotFound, tradeID)
	}
	delete(t.open, tradeID)

	now := time.Now().UTC()
	pnl, percent := theoreticalPnL(trade, exitPrice)
	trade.Status = models.TradeClosed
	trade.ClosedAt = &now
	trade.ExitPrice = models.Float(exitPrice)
	trade.ExitReason = reason
	trade.TheoreticalPnL = models.Float(pnl)
	trade.TheoreticalPnLPercent = models.Float(percent)
	t.mu.Unlock()

	t.persist(ctx, trade)
	t.log.Info().
		Str("trade_id", trade.ID).
		Str("epic", trade.Epic).
		Str("exit_reason", string(reason)).
		Float64("exit", exitPrice).
		Float64("theoretical_pnl", pnl).
		Msg("shadow trade closed")

	if t.onExit != nil {
		t.onExit(trade)
	}
	return trade, nil
}

// CloseManual closes a shadow trade at the current market price on operator
// request.
func (t *ShadowTrader) CloseManual(ctx context.Context, tradeID string) (*models.ShadowTrade, error) {
	t.mu.RLock()
	trade, ok := t.open[tradeID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrTradeNotFound, tradeID)
	}

	b, err := t.brokers.ForEpic(trade.Epic)
	if err != nil {
		return nil, err
	}
	price, err := b.SymbolPrice(ctx, trade.Epic)
	if err != nil {
		return nil, err
	}
	return t.Close(ctx, tradeID, price.Mid(), models.ExitManual)
}

// AttachSnapshot records a captured market snapshot id on a closed trade.
func (t *ShadowTrader) AttachSnapshot(ctx context.Context, trade *models.ShadowTrade, snapshotID string) {
	trade.SnapshotIDs = append(trade.SnapshotIDs, snapshotID)
	t.persist(ctx, trade)
}

func (t *ShadowTrader) persist(ctx context.Context, trade *models.ShadowTrade) {
	if t.store == nil {
		return
	}
	if err := t.store.StoreShadowTrade(ctx, trade); err != nil {
		t.log.Error().Err(err).Str("trade_id", trade.ID).Msg("failed to persist shadow trade")
	}
}
