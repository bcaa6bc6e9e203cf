package risk

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"fiona-trader/internal/config"
	"fiona-trader/internal/logging"
	"fiona-trader/internal/models"
)

// Property: for every approved (possibly adjusted) order,
// slTicks * tickValue * finalSize <= equity * maxRiskPct/100 within
// floating tolerance. Denials are out of scope; approvals must never
// exceed the budget.
func TestProperty_RiskBoundInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	cfg := config.Default().Risk
	engine := NewEngine(cfg, logging.Nop())

	properties.Property("approved orders stay inside the risk budget", prop.ForAll(
		func(equity, entry, stopDistance, size float64) bool {
			in := baseInput(size, entry-stopDistance)
			in.Account = models.AccountState{Equity: equity, Balance: equity, Available: equity}
			in.Setup.ReferencePrice = entry
			in.Order.StopLoss = models.Float(entry - stopDistance)

			result := engine.Evaluate(in)
			if !result.Allowed {
				return true
			}

			finalSize := in.Order.Size
			if result.AdjustedOrder != nil {
				finalSize = result.AdjustedOrder.Size
			}
			slTicks := stopDistance / cfg.TickSize
			potentialLoss := slTicks * cfg.TickValue * finalSize
			budget := equity * cfg.MaxRiskPerTradePercent / 100
			return potentialLoss <= budget+1e-6
		},
		gen.Float64Range(1000, 100000),
		gen.Float64Range(10, 200),
		gen.Float64Range(0.05, 5.0),
		gen.Float64Range(0.1, 10.0),
	))

	properties.TestingRun(t)
}

// Property: potentialLoss is identical whether leverage is 1.0 or 20.0.
// Leverage affects margin-based sizing and the reported metric only.
func TestProperty_LeverageIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	base := config.Default().Risk
	lowLev := base
	lowLev.Leverage = 1.0
	highLev := base
	highLev.Leverage = 20.0

	engineLow := NewEngine(lowLev, logging.Nop())
	engineHigh := NewEngine(highLev, logging.Nop())

	properties.Property("potential loss ignores leverage", prop.ForAll(
		func(entry, stopDistance, size float64) bool {
			in := baseInput(size, entry-stopDistance)
			in.Setup.ReferencePrice = entry
			in.Order.StopLoss = models.Float(entry - stopDistance)

			low := engineLow.Evaluate(in)
			high := engineHigh.Evaluate(in)

			if low.Allowed != high.Allowed || low.Reason != high.Reason {
				return false
			}
			if math.Abs(low.Metrics["potential_loss"]-high.Metrics["potential_loss"]) > 1e-9 {
				return false
			}
			return low.Metrics["leverage"] == 1.0 && high.Metrics["leverage"] == 20.0
		},
		gen.Float64Range(10, 200),
		gen.Float64Range(0.05, 5.0),
		gen.Float64Range(0.1, 10.0),
	))

	properties.TestingRun(t)
}

// Property: re-evaluating the same inputs always fails at the same
// pipeline step with the same primary reason.
func TestProperty_IdempotentDenialOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	engine := NewEngine(config.Default().Risk, logging.Nop())

	properties.Property("repeated evaluation is deterministic", prop.ForAll(
		func(dailyPnL, weeklyPnL float64, positionCount int, weekendOffset int, withStop bool) bool {
			in := baseInput(2.0, 75.40)
			in.DailyPnL = dailyPnL
			in.WeeklyPnL = weeklyPnL
			in.Now = tradingTime.AddDate(0, 0, weekendOffset)
			for i := 0; i < positionCount; i++ {
				in.Positions = append(in.Positions, models.Position{Epic: "CL"})
			}
			if !withStop {
				in.Order.StopLoss = nil
			}

			first := engine.Evaluate(in)
			second := engine.Evaluate(in)

			if first.Allowed != second.Allowed || first.Reason != second.Reason {
				return false
			}
			if len(first.ChecksPassed) != len(second.ChecksPassed) {
				return false
			}
			if !first.Allowed {
				return first.Violations[0].Code == second.Violations[0].Code
			}
			return true
		},
		gen.Float64Range(-1000, 1000),
		gen.Float64Range(-1000, 1000),
		gen.IntRange(0, 3),
		gen.IntRange(0, 6),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
