package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fiona-trader/internal/execution"
)

func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the engine with exit polling and snapshot capture",
		Long: `Run the engine until interrupted: connects the configured brokers,
then drives exit-condition polling over open live and shadow trades and
post-exit market-snapshot capture on their configured intervals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			for _, b := range app.Brokers.Brokers() {
				if err := b.Connect(ctx); err != nil {
					app.Logger.Error().Err(err).Msg("broker connect failed")
				}
			}
			defer func() {
				for _, b := range app.Brokers.Brokers() {
					b.Disconnect()
				}
			}()

			poller := execution.NewPoller(app.Config.Execution, app.Service, app.Shadow, app.Brokers, app.Store, app.Logger)
			app.Logger.Info().Msg("engine started")
			poller.Run(ctx)

			if app.Store != nil {
				app.Store.Close()
			}
			return nil
		},
	}
}
