package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"fiona-trader/internal/models"
	"fiona-trader/internal/risk"
)

func newEvaluateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <epic> <buy|sell> <size>",
		Short: "Run a one-shot risk evaluation of a trade proposal",
		Long: `Evaluate a hand-entered trade proposal against the configured risk
limits and print the verdict with the full metrics map.

Account and position data come from the configured broker; without one,
supply --equity for a synthetic account snapshot.`,
		Example: `  fiona evaluate CL BUY 2.0 --entry 75.50 --sl 75.40
  fiona evaluate CL SELL 1.0 --entry 75.50 --sl 75.65 --tp 74.80 --trend SHORT`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			epic := strings.ToUpper(args[0])

			var direction models.OrderDirection
			switch strings.ToUpper(args[1]) {
			case "BUY":
				direction = models.OrderBuy
			case "SELL":
				direction = models.OrderSell
			default:
				return fmt.Errorf("direction must be buy or sell, got %q", args[1])
			}

			size, err := strconv.ParseFloat(args[2], 64)
			if err != nil || size <= 0 {
				return fmt.Errorf("invalid size %q", args[2])
			}

			entry, _ := cmd.Flags().GetFloat64("entry")
			sl, _ := cmd.Flags().GetFloat64("sl")
			tp, _ := cmd.Flags().GetFloat64("tp")
			equity, _ := cmd.Flags().GetFloat64("equity")
			dailyPnL, _ := cmd.Flags().GetFloat64("daily-pnl")
			weeklyPnL, _ := cmd.Flags().GetFloat64("weekly-pnl")
			trend, _ := cmd.Flags().GetString("trend")
			kind, _ := cmd.Flags().GetString("kind")

			if entry <= 0 {
				return fmt.Errorf("--entry is required")
			}

			order := models.OrderRequest{
				Epic:      epic,
				Direction: direction,
				Size:      size,
				Type:      models.OrderTypeMarket,
				Currency:  app.Config.Execution.DefaultCurrency,
			}
			if sl > 0 {
				order.StopLoss = models.Float(sl)
			}
			if tp > 0 {
				order.TakeProfit = models.Float(tp)
			}
			order.LimitPrice = models.Float(entry)

			account, positions, err := accountSnapshot(app, epic, equity)
			if err != nil {
				return err
			}

			setup := models.SetupCandidate{
				ID:             uuid.NewString(),
				CreatedAt:      time.Now().UTC(),
				Epic:           epic,
				Kind:           models.SetupKind(strings.ToUpper(kind)),
				Direction:      models.DirectionFromOrder(direction),
				ReferencePrice: entry,
			}

			result := app.Risk.Evaluate(risk.Input{
				Account:        account,
				Positions:      positions,
				Setup:          setup,
				Order:          order,
				Now:            time.Now(),
				DailyPnL:       dailyPnL,
				WeeklyPnL:      weeklyPnL,
				TrendDirection: models.TradeDirection(strings.ToUpper(trend)),
			})

			printVerdict(result)
			return nil
		},
	}

	cmd.Flags().Float64("entry", 0, "entry price (required)")
	cmd.Flags().Float64("sl", 0, "stop loss price")
	cmd.Flags().Float64("tp", 0, "take profit price")
	cmd.Flags().Float64("equity", 0, "account equity when no broker is configured")
	cmd.Flags().Float64("daily-pnl", 0, "realized-plus-pending daily P&L")
	cmd.Flags().Float64("weekly-pnl", 0, "realized-plus-pending weekly P&L")
	cmd.Flags().String("trend", "", "higher-timeframe trend (LONG or SHORT)")
	cmd.Flags().String("kind", "BREAKOUT", "setup kind (BREAKOUT, EIA_REVERSION, EIA_TRENDDAY)")

	return cmd
}

// accountSnapshot fetches account and positions from the broker for the
// epic, or synthesizes an account from --equity in shadow-only mode.
func accountSnapshot(app *App, epic string, equity float64) (models.AccountState, []models.Position, error) {
	if b, err := app.Brokers.ForEpic(epic); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.Config.Execution.BrokerTimeout())
		defer cancel()

		account, err := b.AccountState(ctx)
		if err != nil {
			return models.AccountState{}, nil, err
		}
		positions, err := b.OpenPositions(ctx)
		if err != nil {
			return models.AccountState{}, nil, err
		}
		return *account, positions, nil
	}

	if equity <= 0 {
		return models.AccountState{}, nil, fmt.Errorf("no broker configured: supply --equity")
	}
	return models.AccountState{
		Equity:    equity,
		Balance:   equity,
		Available: equity,
		Currency:  app.Config.Execution.DefaultCurrency,
		Timestamp: time.Now().UTC(),
	}, nil, nil
}

func printVerdict(result risk.Result) {
	if result.Allowed {
		color.Green("✓ APPROVED — %s", result.Reason)
		if result.AdjustedOrder != nil {
			color.Yellow("  size adjusted to %.1f", result.AdjustedOrder.Size)
		}
	} else {
		color.Red("✗ DENIED — %s", result.Reason)
		for _, v := range result.Violations {
			color.Red("  [%s] %s", v.Code, v.Message)
		}
	}

	if len(result.ChecksPassed) > 0 {
		color.Cyan("Checks passed: %s", strings.Join(result.ChecksPassed, ", "))
	}

	keys := make([]string, 0, len(result.Metrics))
	for k := range result.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println("Metrics:")
	for _, k := range keys {
		fmt.Printf("  %-18s %.4f\n", k, result.Metrics[k])
	}
}
