package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fiona-trader/internal/models"
)

// SQLiteStore implements TradeStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Executed (live) trades
	CREATE TABLE IF NOT EXISTS executed_trades (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		setup_id TEXT,
		advisor_eval_id TEXT,
		broker_deal_id TEXT,
		broker_order_id TEXT,
		epic TEXT NOT NULL,
		direction TEXT NOT NULL,
		size REAL NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL,
		take_profit REAL,
		status TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		exit_price REAL,
		exit_reason TEXT,
		realized_pnl REAL,
		currency TEXT,
		meta TEXT
	);

	-- Shadow (simulated) trades
	CREATE TABLE IF NOT EXISTS shadow_trades (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		setup_id TEXT,
		advisor_eval_id TEXT,
		epic TEXT NOT NULL,
		direction TEXT NOT NULL,
		size REAL NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL,
		take_profit REAL,
		status TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		exit_price REAL,
		exit_reason TEXT,
		theoretical_pnl REAL,
		theoretical_pnl_percent REAL,
		skip_reason TEXT,
		snapshot_ids TEXT,
		meta TEXT
	);

	-- Market snapshots captured around trade exits
	CREATE TABLE IF NOT EXISTS market_snapshots (
		id TEXT PRIMARY KEY,
		trade_id TEXT NOT NULL,
		is_shadow INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL,
		epic TEXT NOT NULL,
		bid REAL NOT NULL,
		ask REAL NOT NULL,
		spread REAL NOT NULL,
		high REAL,
		low REAL
	);

	CREATE INDEX IF NOT EXISTS idx_executed_epic ON executed_trades(epic);
	CREATE INDEX IF NOT EXISTS idx_executed_status ON executed_trades(status);
	CREATE INDEX IF NOT EXISTS idx_executed_opened ON executed_trades(opened_at);
	CREATE INDEX IF NOT EXISTS idx_shadow_epic ON shadow_trades(epic);
	CREATE INDEX IF NOT EXISTS idx_shadow_status ON shadow_trades(status);
	CREATE INDEX IF NOT EXISTS idx_snapshots_trade ON market_snapshots(trade_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// StoreTrade inserts or updates an executed trade.
func (s *SQLiteStore) StoreTrade(ctx context.Context, trade *models.ExecutedTrade) error {
	meta, _ := json.Marshal(trade.Meta)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executed_trades (id, created_at, setup_id, advisor_eval_id, broker_deal_id, broker_order_id, epic, direction, size, entry_price, stop_loss, take_profit, status, opened_at, closed_at, exit_price, exit_reason, realized_pnl, currency, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.CreatedAt, trade.SetupID, trade.AdvisorEvalID, trade.BrokerDealID, trade.BrokerOrderID, trade.Epic, trade.Direction, trade.Size, trade.EntryPrice, trade.StopLoss, trade.TakeProfit, trade.Status, trade.OpenedAt, trade.ClosedAt, trade.ExitPrice, trade.ExitReason, trade.RealizedPnL, trade.Currency, string(meta))
	if err != nil {
		return fmt.Errorf("failed to store trade: %w", err)
	}
	return nil
}

// StoreShadowTrade inserts or updates a shadow trade.
func (s *SQLiteStore) StoreShadowTrade(ctx context.Context, trade *models.ShadowTrade) error {
	meta, _ := json.Marshal(trade.Meta)
	snapshotIDs, _ := json.Marshal(trade.SnapshotIDs)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO shadow_trades (id, created_at, setup_id, advisor_eval_id, epic, direction, size, entry_price, stop_loss, take_profit, status, opened_at, closed_at, exit_price, exit_reason, theoretical_pnl, theoretical_pnl_percent, skip_reason, snapshot_ids, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.CreatedAt, trade.SetupID, trade.AdvisorEvalID, trade.Epic, trade.Direction, trade.Size, trade.EntryPrice, trade.StopLoss, trade.TakeProfit, trade.Status, trade.OpenedAt, trade.ClosedAt, trade.ExitPrice, trade.ExitReason, trade.TheoreticalPnL, trade.TheoreticalPnLPercent, trade.SkipReason, string(snapshotIDs), string(meta))
	if err != nil {
		return fmt.Errorf("failed to store shadow trade: %w", err)
	}
	return nil
}

// StoreMarketSnapshot inserts a market snapshot.
func (s *SQLiteStore) StoreMarketSnapshot(ctx context.Context, snapshot *models.MarketSnapshot) error {
	isShadow := 0
	if snapshot.IsShadow {
		isShadow = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO market_snapshots (id, trade_id, is_shadow, created_at, epic, bid, ask, spread, high, low)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snapshot.ID, snapshot.TradeID, isShadow, snapshot.CreatedAt, snapshot.Epic, snapshot.Bid, snapshot.Ask, snapshot.Spread, snapshot.High, snapshot.Low)
	if err != nil {
		return fmt.Errorf("failed to store market snapshot: %w", err)
	}
	return nil
}

// Trades retrieves executed trades matching the filter.
func (s *SQLiteStore) Trades(ctx context.Context, filter TradeFilter) ([]models.ExecutedTrade, error) {
	query := "SELECT id, created_at, setup_id, advisor_eval_id, broker_deal_id, broker_order_id, epic, direction, size, entry_price, stop_loss, take_profit, status, opened_at, closed_at, exit_price, exit_reason, realized_pnl, currency, meta FROM executed_trades WHERE 1=1"
	query, args := applyTradeFilter(query, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ExecutedTrade
	for rows.Next() {
		var t models.ExecutedTrade
		var stopLoss, takeProfit, exitPrice, realizedPnL sql.NullFloat64
		var closedAt sql.NullTime
		var exitReason, metaJSON string

		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.SetupID, &t.AdvisorEvalID, &t.BrokerDealID, &t.BrokerOrderID, &t.Epic, &t.Direction, &t.Size, &t.EntryPrice, &stopLoss, &takeProfit, &t.Status, &t.OpenedAt, &closedAt, &exitPrice, &exitReason, &realizedPnL, &t.Currency, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		t.StopLoss = nullableFloat(stopLoss)
		t.TakeProfit = nullableFloat(takeProfit)
		t.ExitPrice = nullableFloat(exitPrice)
		t.RealizedPnL = nullableFloat(realizedPnL)
		if closedAt.Valid {
			ts := closedAt.Time
			t.ClosedAt = &ts
		}
		t.ExitReason = models.ExitReason(exitReason)
		json.Unmarshal([]byte(metaJSON), &t.Meta)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ShadowTrades retrieves shadow trades matching the filter.
func (s *SQLiteStore) ShadowTrades(ctx context.Context, filter TradeFilter) ([]models.ShadowTrade, error) {
	query := "SELECT id, created_at, setup_id, advisor_eval_id, epic, direction, size, entry_price, stop_loss, take_profit, status, opened_at, closed_at, exit_price, exit_reason, theoretical_pnl, theoretical_pnl_percent, skip_reason, snapshot_ids, meta FROM shadow_trades WHERE 1=1"
	query, args := applyTradeFilter(query, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shadow trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ShadowTrade
	for rows.Next() {
		var t models.ShadowTrade
		var stopLoss, takeProfit, exitPrice, pnl, pnlPercent sql.NullFloat64
		var closedAt sql.NullTime
		var exitReason, snapshotIDsJSON, metaJSON string

		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.SetupID, &t.AdvisorEvalID, &t.Epic, &t.Direction, &t.Size, &t.EntryPrice, &stopLoss, &takeProfit, &t.Status, &t.OpenedAt, &closedAt, &exitPrice, &exitReason, &pnl, &pnlPercent, &t.SkipReason, &snapshotIDsJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan shadow trade: %w", err)
		}

		t.StopLoss = nullableFloat(stopLoss)
		t.TakeProfit = nullableFloat(takeProfit)
		t.ExitPrice = nullableFloat(exitPrice)
		t.TheoreticalPnL = nullableFloat(pnl)
		t.TheoreticalPnLPercent = nullableFloat(pnlPercent)
		if closedAt.Valid {
			ts := closedAt.Time
			t.ClosedAt = &ts
		}
		t.ExitReason = models.ExitReason(exitReason)
		json.Unmarshal([]byte(snapshotIDsJSON), &t.SnapshotIDs)
		json.Unmarshal([]byte(metaJSON), &t.Meta)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SnapshotsForTrade retrieves the snapshots captured for a trade.
func (s *SQLiteStore) SnapshotsForTrade(ctx context.Context, tradeID string) ([]models.MarketSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trade_id, is_shadow, created_at, epic, bid, ask, spread, high, low
		FROM market_snapshots WHERE trade_id = ? ORDER BY created_at ASC
	`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.MarketSnapshot
	for rows.Next() {
		var snap models.MarketSnapshot
		var isShadow int
		var high, low sql.NullFloat64

		if err := rows.Scan(&snap.ID, &snap.TradeID, &isShadow, &snap.CreatedAt, &snap.Epic, &snap.Bid, &snap.Ask, &snap.Spread, &high, &low); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		snap.IsShadow = isShadow == 1
		snap.High = nullableFloat(high)
		snap.Low = nullableFloat(low)
		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}

func applyTradeFilter(query string, filter TradeFilter) (string, []interface{}) {
	args := []interface{}{}

	if filter.Epic != "" {
		query += " AND epic = ?"
		args = append(args, filter.Epic)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if !filter.StartDate.IsZero() {
		query += " AND opened_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND opened_at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY opened_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return query, args
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
