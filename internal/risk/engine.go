// Package risk implements the trade admission engine: an ordered, fail-fast
// pipeline of checks that allows, adjusts or denies a proposed order before
// it can reach the execution path.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"fiona-trader/internal/config"
	"fiona-trader/internal/errors"
	"fiona-trader/internal/models"
)

// MinTradableSize is the smallest position size the engine will ever
// approve. Adjusted sizes below this floor deny the trade instead.
const MinTradableSize = 0.1

// Input carries one evaluation's snapshot. Each call must receive its own
// account/position snapshot; the engine never mutates them.
type Input struct {
	Account   models.AccountState
	Positions []models.Position
	Setup     models.SetupCandidate
	Order     models.OrderRequest
	Now       time.Time

	// EventRelease is the timestamp of a known high-impact data release,
	// if one is near. Nil when no release is relevant.
	EventRelease *time.Time

	DailyPnL  float64
	WeeklyPnL float64

	// TrendDirection is the higher-timeframe trend, empty when unknown.
	TrendDirection models.TradeDirection
}

// Violation is one failed check: a machine-checkable code plus a
// human-readable message.
type Violation struct {
	Code    string
	Message string
}

// Result is the verdict of one evaluation. A denial always carries at least
// one violation and a populated metrics map.
type Result struct {
	Allowed bool
	Reason  string

	// AdjustedOrder is set only when the trade is allowed with a size
	// reduced to fit the risk budget. Absent on denial.
	AdjustedOrder *models.OrderRequest

	Violations   []Violation
	ChecksPassed []string
	Metrics      map[string]float64
}

// Engine evaluates proposed trades against configured limits. It holds no
// mutable state beyond the read-only config and is safe for concurrent use.
type Engine struct {
	cfg config.RiskConfig
	log zerolog.Logger
}

// NewEngine creates a risk engine bound to the given limits.
func NewEngine(cfg config.RiskConfig, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log.With().Str("component", "risk_engine").Logger()}
}

// Config returns the limits this engine enforces.
func (e *Engine) Config() config.RiskConfig {
	return e.cfg
}

type check struct {
	name string
	run  func(*Engine, Input, map[string]float64) *Violation
}

// Pipeline order is part of the contract: re-evaluating the same inputs
// always fails at the same step with the same primary reason.
var pipeline = []check{
	{"time_restrictions", (*Engine).checkTimeRestrictions},
	{"loss_limits", (*Engine).checkLossLimits},
	{"open_positions", (*Engine).checkOpenPositions},
	{"countertrend", (*Engine).checkCountertrend},
	{"stop_loss", (*Engine).checkStopLoss},
}

// Evaluate runs the admission pipeline over a proposed trade. The first
// failing check terminates evaluation with that check's reason; diagnostics
// of prior-passed checks are recorded either way.
func (e *Engine) Evaluate(in Input) Result {
	metrics := e.baseMetrics(in.Account)

	e.log.Debug().
		Str("setup_id", in.Setup.ID).
		Str("epic", in.Order.Epic).
		Str("direction", string(in.Order.Direction)).
		Float64("size", in.Order.Size).
		Float64("equity", in.Account.Equity).
		Int("open_positions", len(in.Positions)).
		Float64("daily_pnl", in.DailyPnL).
		Float64("weekly_pnl", in.WeeklyPnL).
		Time("now", in.Now).
		Msg("risk evaluation started")

	var passed []string
	for _, c := range pipeline {
		if v := c.run(e, in, metrics); v != nil {
			e.log.Warn().
				Str("setup_id", in.Setup.ID).
				Str("check", c.name).
				Str("code", v.Code).
				Str("reason", v.Message).
				Msg("trade denied")
			return Result{
				Allowed:      false,
				Reason:       v.Message,
				Violations:   []Violation{*v},
				ChecksPassed: passed,
				Metrics:      metrics,
			}
		}
		passed = append(passed, c.name)
		e.log.Debug().Str("setup_id", in.Setup.ID).Str("check", c.name).Msg("risk check passed")
	}

	// Position-risk sizing is the last pipeline step; it can deny, adjust
	// or pass the order through unchanged.
	violation, adjusted := e.checkPositionRisk(in, metrics)
	if violation != nil {
		e.log.Warn().
			Str("setup_id", in.Setup.ID).
			Str("check", "position_risk").
			Str("code", violation.Code).
			Str("reason", violation.Message).
			Msg("trade denied")
		return Result{
			Allowed:      false,
			Reason:       violation.Message,
			Violations:   []Violation{*violation},
			ChecksPassed: passed,
			Metrics:      metrics,
		}
	}
	passed = append(passed, "position_risk")

	if adjusted != nil {
		e.log.Info().
			Str("setup_id", in.Setup.ID).
			Float64("original_size", in.Order.Size).
			Float64("adjusted_size", adjusted.Size).
			Msg("order size reduced to fit risk limits")
		return Result{
			Allowed:       true,
			Reason:        "Position size reduced to fit risk limits",
			AdjustedOrder: adjusted,
			ChecksPassed:  passed,
			Metrics:       metrics,
		}
	}

	e.log.Debug().Str("setup_id", in.Setup.ID).Msg("trade approved")
	return Result{
		Allowed:      true,
		Reason:       "Trade meets all risk requirements",
		ChecksPassed: passed,
		Metrics:      metrics,
	}
}

// baseMetrics populates the quantities that are meaningful regardless of
// how far the pipeline gets. Denials are auditable too.
func (e *Engine) baseMetrics(account models.AccountState) map[string]float64 {
	return map[string]float64{
		"equity":          account.Equity,
		"max_risk_amount": account.Equity * e.cfg.MaxRiskPerTradePercent / 100,
		"leverage":        e.cfg.Leverage,
	}
}

func (e *Engine) checkTimeRestrictions(in Input, _ map[string]float64) *Violation {
	// Release window first: event-driven setups trade the release itself
	// and are exempt.
	if in.EventRelease != nil && !in.Setup.Kind.EventDriven() {
		window := time.Duration(e.cfg.DenyEventWindowMinutes) * time.Minute
		start := in.EventRelease.Add(-window)
		end := in.EventRelease.Add(window)
		if !in.Now.Before(start) && !in.Now.After(end) {
			return &Violation{
				Code: errors.CodeEventWindow,
				Message: fmt.Sprintf("Trade denied: within release window (%d min before/after)",
					e.cfg.DenyEventWindowMinutes),
			}
		}
	}

	if in.Now.Weekday() == time.Friday {
		hour, minute, err := e.cfg.FridayCutoff()
		if err == nil {
			cutoff := hour*60 + minute
			current := in.Now.Hour()*60 + in.Now.Minute()
			if current >= cutoff {
				return &Violation{
					Code:    errors.CodeFridayCutoff,
					Message: fmt.Sprintf("Trade denied: Friday after %s", e.cfg.DenyFridayAfter),
				}
			}
		}
	}

	if wd := in.Now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return &Violation{
			Code:    errors.CodeWeekend,
			Message: "Trade denied: weekend trading not allowed",
		}
	}

	return nil
}

func (e *Engine) checkLossLimits(in Input, _ map[string]float64) *Violation {
	maxDaily := in.Account.Equity * e.cfg.MaxDailyLossPercent / 100
	if in.DailyPnL < -maxDaily {
		return &Violation{
			Code: errors.CodeDailyLossLimit,
			Message: fmt.Sprintf("Trade denied: daily loss limit exceeded (%.1f%%)",
				e.cfg.MaxDailyLossPercent),
		}
	}

	maxWeekly := in.Account.Equity * e.cfg.MaxWeeklyLossPercent / 100
	if in.WeeklyPnL < -maxWeekly {
		return &Violation{
			Code: errors.CodeWeeklyLossLimit,
			Message: fmt.Sprintf("Trade denied: weekly loss limit exceeded (%.1f%%)",
				e.cfg.MaxWeeklyLossPercent),
		}
	}

	return nil
}

func (e *Engine) checkOpenPositions(in Input, _ map[string]float64) *Violation {
	if len(in.Positions) >= e.cfg.MaxOpenPositions {
		return &Violation{
			Code: errors.CodeMaxOpenPositions,
			Message: fmt.Sprintf("Trade denied: max open positions (%d) reached",
				e.cfg.MaxOpenPositions),
		}
	}
	return nil
}

func (e *Engine) checkCountertrend(in Input, _ map[string]float64) *Violation {
	if e.cfg.AllowCountertrend || in.TrendDirection == "" {
		return nil
	}
	// Event-driven setups trade against the prevailing trend by design.
	if in.Setup.Kind.EventDriven() {
		return nil
	}
	if in.Setup.Direction != in.TrendDirection {
		return &Violation{
			Code: errors.CodeCountertrend,
			Message: fmt.Sprintf("Trade denied: countertrend trade (%s vs %s trend)",
				in.Setup.Direction, in.TrendDirection),
		}
	}
	return nil
}

func (e *Engine) checkStopLoss(in Input, metrics map[string]float64) *Violation {
	if in.Order.StopLoss == nil {
		return &Violation{
			Code:    errors.CodeStopLossMissing,
			Message: "Trade denied: stop loss is required",
		}
	}

	slDistance := math.Abs(in.Setup.ReferencePrice - *in.Order.StopLoss)
	slTicks := slDistance / e.cfg.TickSize
	metrics["sl_distance"] = slDistance
	metrics["sl_ticks"] = slTicks

	if slTicks < float64(e.cfg.SLMinTicks) {
		return &Violation{
			Code: errors.CodeStopLossTooTight,
			Message: fmt.Sprintf("Trade denied: SL distance (%.1f ticks) below minimum (%d ticks)",
				slTicks, e.cfg.SLMinTicks),
		}
	}

	return nil
}

// checkPositionRisk enforces the risk budget. Leverage is deliberately
// absent from the loss math: it affects margin required, never the
// price-move-driven loss.
func (e *Engine) checkPositionRisk(in Input, metrics map[string]float64) (*Violation, *models.OrderRequest) {
	maxRiskAmount := metrics["max_risk_amount"]
	slTicks := metrics["sl_ticks"]

	workingSize := in.Order.Size
	if workingSize > e.cfg.MaxPositionSize {
		workingSize = e.cfg.MaxPositionSize
		metrics["size_capped_to_max"] = 1
	}

	potentialLoss := slTicks * e.cfg.TickValue * workingSize
	metrics["potential_loss"] = potentialLoss

	if potentialLoss > maxRiskAmount {
		maxSize := maxRiskAmount / (slTicks * e.cfg.TickValue)
		if maxSize < MinTradableSize-sizeEpsilon {
			metrics["final_size"] = 0
			return &Violation{
				Code: errors.CodeRiskBudget,
				Message: fmt.Sprintf("Trade denied: stop distance too large for risk budget (> %.1f%% of equity)",
					e.cfg.MaxRiskPerTradePercent),
			}, nil
		}
		workingSize = floorToTenth(maxSize)
		if workingSize > e.cfg.MaxPositionSize {
			workingSize = e.cfg.MaxPositionSize
		}
		metrics["adjusted_size"] = workingSize
	}

	metrics["final_size"] = workingSize
	if workingSize != in.Order.Size {
		adjusted := in.Order.WithSize(workingSize)
		return nil, &adjusted
	}
	return nil, nil
}

// sizeEpsilon absorbs float artifacts around the 0.1 granularity so a stop
// that prices out to exactly the minimum size is approved, not denied.
const sizeEpsilon = 1e-9

// floorToTenth rounds a size down to the 0.1 contract granularity. Rounding
// down keeps the adjusted order inside the risk budget; rounding to nearest
// could push it back over.
func floorToTenth(v float64) float64 {
	return math.Floor(v*10+sizeEpsilon) / 10
}
