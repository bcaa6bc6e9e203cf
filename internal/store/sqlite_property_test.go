package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"fiona-trader/internal/models"
)

// Property: storing a shadow trade and reading it back preserves every
// field, including whether optional levels were set at all. A nil stop
// loss must come back nil, never as zero.
func TestProperty_ShadowTradeRoundTrip(t *testing.T) {
	store := newTestStore(t, "test_shadow_property.db")
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	epics := []string{"CL", "NG", "DAX", "NSE:RELIANCE", "MCX:CRUDEOIL"}

	var counter int

	properties.Property("shadow trade round-trip preserves fields and nil-ness", prop.ForAll(
		func(epicIdx int, long bool, size, entry float64, withStop, withTarget bool, stopOffset, targetOffset float64) bool {
			counter++
			opened := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC).Add(time.Duration(counter) * time.Second)

			direction := models.Long
			if !long {
				direction = models.Short
			}

			trade := &models.ShadowTrade{
				ID:         fmt.Sprintf("shadow-prop-%d", counter),
				CreatedAt:  opened,
				SetupID:    "setup-prop",
				Epic:       epics[epicIdx%len(epics)],
				Direction:  direction,
				Size:       size,
				EntryPrice: entry,
				Status:     models.TradeOpen,
				OpenedAt:   opened,
				SkipReason: "property run",
			}
			if withStop {
				trade.StopLoss = models.Float(entry - stopOffset)
			}
			if withTarget {
				trade.TakeProfit = models.Float(entry + targetOffset)
			}

			if err := store.StoreShadowTrade(ctx, trade); err != nil {
				t.Logf("store failed: %v", err)
				return false
			}

			trades, err := store.ShadowTrades(ctx, TradeFilter{Epic: trade.Epic})
			if err != nil {
				t.Logf("query failed: %v", err)
				return false
			}

			for _, got := range trades {
				if got.ID != trade.ID {
					continue
				}
				if got.Direction != trade.Direction || got.SkipReason != trade.SkipReason {
					return false
				}
				if math.Abs(got.Size-trade.Size) > 1e-9 || math.Abs(got.EntryPrice-trade.EntryPrice) > 1e-9 {
					return false
				}
				if (got.StopLoss == nil) != !withStop {
					return false
				}
				if withStop && math.Abs(*got.StopLoss-*trade.StopLoss) > 1e-9 {
					return false
				}
				if (got.TakeProfit == nil) != !withTarget {
					return false
				}
				return true
			}
			return false
		},
		gen.IntRange(0, 4),
		gen.Bool(),
		gen.Float64Range(0.1, 10.0),
		gen.Float64Range(1.0, 5000.0),
		gen.Bool(),
		gen.Bool(),
		gen.Float64Range(0.05, 50.0),
		gen.Float64Range(0.05, 50.0),
	))

	properties.TestingRun(t)
}
