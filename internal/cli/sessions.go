package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fiona-trader/internal/store"
)

func newSessionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active execution sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions := app.Service.ActiveSessions()
			if len(sessions) == 0 {
				fmt.Println("No active sessions.")
				return nil
			}

			color.Cyan("Active sessions")
			for _, sess := range sessions {
				sum := sess.Summary()
				fmt.Printf("  %s  %-18s %s %s %.1f", sum.ID, sum.State, sum.Order.Epic, sum.Order.Direction, sum.Order.Size)
				if sum.RiskReason != "" {
					fmt.Printf("  (%s)", sum.RiskReason)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List stored trades",
		Long:  "List executed and shadow trades from the trade store, most recent first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("trade store unavailable")
			}

			limit, _ := cmd.Flags().GetInt("limit")
			epic, _ := cmd.Flags().GetString("epic")
			shadowOnly, _ := cmd.Flags().GetBool("shadow")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			filter := store.TradeFilter{Epic: epic, Limit: limit}

			if !shadowOnly {
				trades, err := app.Store.Trades(ctx, filter)
				if err != nil {
					return err
				}
				color.Cyan("Executed trades (%d)", len(trades))
				for _, t := range trades {
					line := fmt.Sprintf("  %s  %s %s %.1f @ %.2f  %s", t.OpenedAt.Format("2006-01-02 15:04"), t.Epic, t.Direction, t.Size, t.EntryPrice, t.Status)
					if t.RealizedPnL != nil {
						line += fmt.Sprintf("  pnl %.2f (%s)", *t.RealizedPnL, t.ExitReason)
					}
					fmt.Println(line)
				}
			}

			shadows, err := app.Store.ShadowTrades(ctx, filter)
			if err != nil {
				return err
			}
			color.Cyan("Shadow trades (%d)", len(shadows))
			for _, t := range shadows {
				line := fmt.Sprintf("  %s  %s %s %.1f @ %.2f  %s", t.OpenedAt.Format("2006-01-02 15:04"), t.Epic, t.Direction, t.Size, t.EntryPrice, t.Status)
				if t.TheoreticalPnL != nil {
					line += fmt.Sprintf("  pnl %.2f (%s)", *t.TheoreticalPnL, t.ExitReason)
				}
				if t.SkipReason != "" {
					line += "  skip: " + t.SkipReason
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "maximum trades to list")
	cmd.Flags().String("epic", "", "filter by instrument")
	cmd.Flags().Bool("shadow", false, "list only shadow trades")
	return cmd
}
