package models

import "time"

// TradeStatus represents the lifecycle status of a trade record.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// ExitReason explains why a trade was closed.
type ExitReason string

const (
	ExitSLHit      ExitReason = "SL_HIT"
	ExitTPHit      ExitReason = "TP_HIT"
	ExitManual     ExitReason = "MANUAL"
	ExitTime       ExitReason = "TIME_EXIT"
	ExitSignal     ExitReason = "SIGNAL_EXIT"
	ExitMarginCall ExitReason = "MARGIN_CALL"
)

// ExecutedTrade is a live, broker-confirmed position. It is created only
// after a successful broker acknowledgment and is keyed by the broker's
// deal identifier.
type ExecutedTrade struct {
	ID            string
	CreatedAt     time.Time
	SetupID       string
	AdvisorEvalID string
	BrokerDealID  string
	BrokerOrderID string
	Epic          string
	Direction     TradeDirection
	Size          float64
	EntryPrice    float64
	StopLoss      *float64
	TakeProfit    *float64
	Status        TradeStatus
	OpenedAt      time.Time
	ClosedAt      *time.Time
	ExitPrice     *float64
	ExitReason    ExitReason
	RealizedPnL   *float64
	Currency      string
	Meta          map[string]string
}

// ShadowTrade is a simulated position tracked against real market prices
// with no capital at risk. It never touches a broker; it closes only via
// simulated price comparison or a manual close.
type ShadowTrade struct {
	ID                    string
	CreatedAt             time.Time
	SetupID               string
	AdvisorEvalID         string
	Epic                  string
	Direction             TradeDirection
	Size                  float64
	EntryPrice            float64
	StopLoss              *float64
	TakeProfit            *float64
	Status                TradeStatus
	OpenedAt              time.Time
	ClosedAt              *time.Time
	ExitPrice             *float64
	ExitReason            ExitReason
	TheoreticalPnL        *float64
	TheoreticalPnLPercent *float64
	SkipReason            string
	SnapshotIDs           []string
	Meta                  map[string]string
}

// MarketSnapshot is a point-in-time quote captured around a trade exit for
// post-trade analysis.
type MarketSnapshot struct {
	ID        string
	TradeID   string
	IsShadow  bool
	CreatedAt time.Time
	Epic      string
	Bid       float64
	Ask       float64
	Spread    float64
	High      *float64
	Low       *float64
}
