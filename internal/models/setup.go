package models

import "time"

// SetupKind classifies what kind of market situation produced a setup.
type SetupKind string

const (
	SetupBreakout     SetupKind = "BREAKOUT"
	SetupEIAReversion SetupKind = "EIA_REVERSION"
	SetupEIATrendday  SetupKind = "EIA_TRENDDAY"
)

// EventDriven reports whether the setup kind is driven by a scheduled data
// release. Event-driven setups are exempt from the countertrend rule and the
// release-window restriction.
func (k SetupKind) EventDriven() bool {
	return k == SetupEIAReversion || k == SetupEIATrendday
}

// BreakoutContext carries the range geometry that triggered a breakout setup.
type BreakoutContext struct {
	RangeHigh    float64
	RangeLow     float64
	RangeHeight  float64
	TriggerPrice float64
	Direction    TradeDirection
}

// SetupCandidate is a trade proposal emitted by the upstream strategy
// component. The engine treats it as opaque except for Direction,
// ReferencePrice and Kind.
type SetupCandidate struct {
	ID             string
	CreatedAt      time.Time
	Epic           string
	Kind           SetupKind
	Direction      TradeDirection
	ReferencePrice float64
	Breakout       *BreakoutContext
}
