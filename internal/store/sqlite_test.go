package store

import (
	"context"
	"os"
	"testing"
	"time"

	"fiona-trader/internal/models"
)

func newTestStore(t *testing.T, dbPath string) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.Remove(dbPath)
	})
	return store
}

func TestExecutedTradeRoundTrip(t *testing.T) {
	store := newTestStore(t, "test_executed_trades.db")
	ctx := context.Background()

	opened := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(2 * time.Hour)
	trade := &models.ExecutedTrade{
		ID:            "trade-1",
		CreatedAt:     opened,
		SetupID:       "setup-1",
		AdvisorEvalID: "eval-1",
		BrokerDealID:  "DEAL-1",
		BrokerOrderID: "ORDER-1",
		Epic:          "CL",
		Direction:     models.Long,
		Size:          1.0,
		EntryPrice:    75.51,
		StopLoss:      models.Float(75.40),
		TakeProfit:    models.Float(76.00),
		Status:        models.TradeClosed,
		OpenedAt:      opened,
		ClosedAt:      &closed,
		ExitPrice:     models.Float(76.00),
		ExitReason:    models.ExitTPHit,
		RealizedPnL:   models.Float(0.49),
		Currency:      "EUR",
		Meta:          map[string]string{"session_id": "sess-1"},
	}

	if err := store.StoreTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	trades, err := store.Trades(ctx, TradeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}

	got := trades[0]
	if got.ID != trade.ID || got.Epic != trade.Epic || got.Direction != trade.Direction {
		t.Errorf("identity fields mismatch: %+v", got)
	}
	if got.EntryPrice != trade.EntryPrice || got.Size != trade.Size {
		t.Errorf("price fields mismatch: %+v", got)
	}
	if got.StopLoss == nil || *got.StopLoss != 75.40 {
		t.Errorf("stop loss = %v", got.StopLoss)
	}
	if got.ExitReason != models.ExitTPHit {
		t.Errorf("exit reason = %s", got.ExitReason)
	}
	if got.RealizedPnL == nil || *got.RealizedPnL != 0.49 {
		t.Errorf("realized pnl = %v", got.RealizedPnL)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(closed) {
		t.Errorf("closed at = %v, want %v", got.ClosedAt, closed)
	}
	if got.Meta["session_id"] != "sess-1" {
		t.Errorf("meta = %v", got.Meta)
	}
}

func TestExecutedTradeNullableFields(t *testing.T) {
	store := newTestStore(t, "test_executed_nulls.db")
	ctx := context.Background()

	opened := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	trade := &models.ExecutedTrade{
		ID:         "trade-open",
		CreatedAt:  opened,
		Epic:       "CL",
		Direction:  models.Short,
		Size:       0.5,
		EntryPrice: 75.49,
		Status:     models.TradeOpen,
		OpenedAt:   opened,
	}

	if err := store.StoreTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	trades, err := store.Trades(ctx, TradeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	got := trades[0]
	if got.StopLoss != nil || got.TakeProfit != nil || got.ExitPrice != nil || got.RealizedPnL != nil {
		t.Errorf("unset optionals came back non-nil: %+v", got)
	}
	if got.ClosedAt != nil {
		t.Errorf("closed at = %v, want nil", got.ClosedAt)
	}
}

func TestStoreTradeUpsert(t *testing.T) {
	store := newTestStore(t, "test_trade_upsert.db")
	ctx := context.Background()

	opened := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	trade := &models.ExecutedTrade{
		ID:         "trade-1",
		CreatedAt:  opened,
		Epic:       "CL",
		Direction:  models.Long,
		Size:       1.0,
		EntryPrice: 75.51,
		Status:     models.TradeOpen,
		OpenedAt:   opened,
	}
	if err := store.StoreTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	closed := opened.Add(time.Hour)
	trade.Status = models.TradeClosed
	trade.ClosedAt = &closed
	trade.ExitPrice = models.Float(75.30)
	trade.ExitReason = models.ExitSLHit
	if err := store.StoreTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	trades, err := store.Trades(ctx, TradeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d after upsert, want 1", len(trades))
	}
	if trades[0].Status != models.TradeClosed || trades[0].ExitReason != models.ExitSLHit {
		t.Errorf("close fields not updated: %+v", trades[0])
	}
}

func TestShadowTradeRoundTrip(t *testing.T) {
	store := newTestStore(t, "test_shadow_trades.db")
	ctx := context.Background()

	opened := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	closed := opened.Add(30 * time.Minute)
	trade := &models.ShadowTrade{
		ID:                    "shadow-1",
		CreatedAt:             opened,
		SetupID:               "setup-1",
		AdvisorEvalID:         "eval-1",
		Epic:                  "CL",
		Direction:             models.Long,
		Size:                  1.0,
		EntryPrice:            75.50,
		StopLoss:              models.Float(75.00),
		Status:                models.TradeClosed,
		OpenedAt:              opened,
		ClosedAt:              &closed,
		ExitPrice:             models.Float(75.00),
		ExitReason:            models.ExitSLHit,
		TheoreticalPnL:        models.Float(-0.50),
		TheoreticalPnLPercent: models.Float(-0.6622516556291391),
		SkipReason:            "Trade denied: daily loss limit reached",
		SnapshotIDs:           []string{"snap-1", "snap-2"},
		Meta:                  map[string]string{"note": "gap open"},
	}

	if err := store.StoreShadowTrade(ctx, trade); err != nil {
		t.Fatal(err)
	}

	trades, err := store.ShadowTrades(ctx, TradeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("shadow trades = %d, want 1", len(trades))
	}

	got := trades[0]
	if got.SkipReason != trade.SkipReason {
		t.Errorf("skip reason = %q", got.SkipReason)
	}
	if got.TheoreticalPnL == nil || *got.TheoreticalPnL != -0.50 {
		t.Errorf("theoretical pnl = %v", got.TheoreticalPnL)
	}
	if len(got.SnapshotIDs) != 2 || got.SnapshotIDs[0] != "snap-1" {
		t.Errorf("snapshot ids = %v", got.SnapshotIDs)
	}
	if got.Meta["note"] != "gap open" {
		t.Errorf("meta = %v", got.Meta)
	}
}

func TestTradeFilters(t *testing.T) {
	store := newTestStore(t, "test_trade_filters.db")
	ctx := context.Background()

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	seed := []struct {
		id     string
		epic   string
		status models.TradeStatus
		opened time.Time
	}{
		{"t1", "CL", models.TradeOpen, base},
		{"t2", "CL", models.TradeClosed, base.Add(24 * time.Hour)},
		{"t3", "NG", models.TradeOpen, base.Add(48 * time.Hour)},
	}
	for _, s := range seed {
		err := store.StoreTrade(ctx, &models.ExecutedTrade{
			ID:         s.id,
			CreatedAt:  s.opened,
			Epic:       s.epic,
			Direction:  models.Long,
			Size:       1.0,
			EntryPrice: 75.0,
			Status:     s.status,
			OpenedAt:   s.opened,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	byEpic, err := store.Trades(ctx, TradeFilter{Epic: "CL"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byEpic) != 2 {
		t.Errorf("epic filter: %d trades, want 2", len(byEpic))
	}

	byStatus, err := store.Trades(ctx, TradeFilter{Status: models.TradeOpen})
	if err != nil {
		t.Fatal(err)
	}
	if len(byStatus) != 2 {
		t.Errorf("status filter: %d trades, want 2", len(byStatus))
	}

	byDate, err := store.Trades(ctx, TradeFilter{StartDate: base.Add(12 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(byDate) != 2 {
		t.Errorf("date filter: %d trades, want 2", len(byDate))
	}

	limited, err := store.Trades(ctx, TradeFilter{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit filter: %d trades, want 1", len(limited))
	}
	// Newest first.
	if limited[0].ID != "t3" {
		t.Errorf("most recent trade = %s, want t3", limited[0].ID)
	}
}

func TestSnapshotsForTrade(t *testing.T) {
	store := newTestStore(t, "test_snapshots.db")
	ctx := context.Background()

	base := time.Date(2025, 3, 11, 14, 30, 0, 0, time.UTC)
	for i, id := range []string{"snap-1", "snap-2", "snap-3"} {
		err := store.StoreMarketSnapshot(ctx, &models.MarketSnapshot{
			ID:        id,
			TradeID:   "trade-1",
			IsShadow:  true,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Epic:      "CL",
			Bid:       75.40 + float64(i)*0.01,
			Ask:       75.42 + float64(i)*0.01,
			Spread:    0.02,
			High:      models.Float(75.80),
			Low:       models.Float(75.10),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	err := store.StoreMarketSnapshot(ctx, &models.MarketSnapshot{
		ID:        "snap-other",
		TradeID:   "trade-2",
		CreatedAt: base,
		Epic:      "NG",
		Bid:       2.10,
		Ask:       2.12,
		Spread:    0.02,
	})
	if err != nil {
		t.Fatal(err)
	}

	snapshots, err := store.SnapshotsForTrade(ctx, "trade-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snapshots))
	}
	// Oldest first.
	for i, want := range []string{"snap-1", "snap-2", "snap-3"} {
		if snapshots[i].ID != want {
			t.Errorf("snapshot[%d] = %s, want %s", i, snapshots[i].ID, want)
		}
	}
	if !snapshots[0].IsShadow {
		t.Error("is_shadow flag lost")
	}
	if snapshots[0].High == nil || *snapshots[0].High != 75.80 {
		t.Errorf("high = %v", snapshots[0].High)
	}
}
