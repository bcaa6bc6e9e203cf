package risk

import (
	"math"

	"fiona-trader/internal/models"
)

// DefaultMaxMarginPercent is the margin share used by PositionSizeFromMargin
// when the caller has no stronger opinion.
const DefaultMaxMarginPercent = 5.0

// PositionSize computes the risk-driven position size for a planned entry
// and stop: the largest size whose stop-out loss stays inside the per-trade
// risk budget, rounded down to the tradable granularity.
func (e *Engine) PositionSize(account models.AccountState, entryPrice, stopLossPrice float64) float64 {
	maxRisk := account.Equity * e.cfg.MaxRiskPerTradePercent / 100

	slTicks := math.Abs(entryPrice-stopLossPrice) / e.cfg.TickSize
	if slTicks <= 0 {
		return 0
	}

	size := maxRisk / (slTicks * e.cfg.TickValue)
	if size > e.cfg.MaxPositionSize {
		size = e.cfg.MaxPositionSize
	}
	return floorToTenth(size)
}

// PositionSizeFromMargin computes a margin-capacity-driven position size:
// the size whose notional value consumes at most maxMarginPercent of the
// account's margin base at the configured leverage. This is an alternative
// strategy to the risk-driven sizing in Evaluate; callers choose one
// explicitly, the two are never combined.
func (e *Engine) PositionSizeFromMargin(account models.AccountState, entryPrice, maxMarginPercent float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	if maxMarginPercent <= 0 {
		maxMarginPercent = DefaultMaxMarginPercent
	}

	notional := MarginBase(account) * maxMarginPercent / 100 * e.cfg.Leverage
	size := notional / entryPrice
	if size > e.cfg.MaxPositionSize {
		size = e.cfg.MaxPositionSize
	}
	return floorToTenth(size)
}

// MarginBase resolves the account figure margin-capacity sizing works from.
// Precedence: the broker-reported margin available when it is present
// (positive), otherwise the plain available balance. Some brokers simply do
// not report a margin figure; treating absence as zero capacity would block
// all margin-based sizing on those venues.
func MarginBase(account models.AccountState) float64 {
	if account.MarginAvailable > 0 {
		return account.MarginAvailable
	}
	return account.Available
}
