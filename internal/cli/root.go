// Package cli provides the command-line interface for the trading engine.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"fiona-trader/internal/advisor"
	"fiona-trader/internal/broker"
	"fiona-trader/internal/config"
	"fiona-trader/internal/execution"
	"fiona-trader/internal/logging"
	"fiona-trader/internal/risk"
	"fiona-trader/internal/store"
)

// Version information
const Version = "0.1.0"

// App holds the application dependencies shared across commands.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Brokers *broker.Registry
	Risk    *risk.Engine
	Shadow  *execution.ShadowTrader
	Service *execution.Service
	Store   store.TradeStore
	Advisor advisor.Advisor
}

// NewRootCmd creates the root command with all dependencies wired from the
// effective configuration.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "fiona",
		Short: "Trade risk and execution decision engine",
		Long: `Fiona evaluates trade setup candidates against configured risk
limits, drives each proposal through an execution session and tracks the
road not taken as shadow trades against live market prices.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				// Malformed limits abort start, nothing else does.
				return err
			}

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.Logging.Level = "debug"
			}
			app.Config = cfg
			app.Logger = logging.New(cfg.Logging)
			return wireApp(app)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "path to YAML config file (default: built-in limits)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newEvaluateCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newSessionsCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))

	return rootCmd
}

// wireApp builds the service graph from the loaded configuration.
func wireApp(app *App) error {
	cfg := app.Config
	log := app.Logger

	app.Brokers = broker.NewRegistry()
	backends := map[string]broker.Broker{}

	newBackend := func(name string) (broker.Broker, error) {
		if b, ok := backends[name]; ok {
			return b, nil
		}
		var b broker.Broker
		switch name {
		case "paper":
			b = broker.NewPaperBroker(broker.PaperBrokerConfig{
				InitialBalance: cfg.Brokers.Paper.InitialBalance,
				Currency:       cfg.Execution.DefaultCurrency,
			})
		case "kite":
			b = broker.NewKiteBroker(broker.KiteBrokerConfig{
				APIKey:      cfg.Brokers.Kite.APIKey,
				APISecret:   cfg.Brokers.Kite.APISecret,
				AccessToken: cfg.Brokers.Kite.AccessToken,
			})
		case "":
			return nil, nil
		default:
			return nil, fmt.Errorf("unknown broker backend %q", name)
		}
		backends[name] = b
		return b, nil
	}

	if b, err := newBackend(cfg.Brokers.Default); err != nil {
		return err
	} else if b != nil {
		app.Brokers.SetDefault(b)
	}
	for epic, name := range cfg.Brokers.Routes {
		b, err := newBackend(name)
		if err != nil {
			return err
		}
		if b != nil {
			app.Brokers.Register(epic, b)
		}
	}
	if !app.Brokers.HasAny() {
		log.Warn().Msg("no broker configured, running in shadow-only mode")
	}

	dbPath := os.Getenv("FIONA_DB")
	if dbPath == "" {
		dbPath = "fiona.db"
	}
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		log.Warn().Err(err).Msg("store unavailable, trades will not be persisted")
	} else {
		app.Store = st
	}

	if cfg.Advisor.Enabled && cfg.Advisor.APIKey != "" {
		app.Advisor = advisor.NewOpenAIAdvisor(cfg.Advisor.APIKey, cfg.Advisor.Model, log)
		log.Debug().Str("model", cfg.Advisor.Model).Msg("advisor initialized")
	}

	app.Risk = risk.NewEngine(cfg.Risk, log)
	app.Shadow = execution.NewShadowTrader(app.Brokers, app.Store, log)
	app.Service = execution.NewService(cfg, app.Brokers, app.Risk, app.Shadow, app.Store, app.Advisor, log)
	return nil
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fiona %s\n", Version)
		},
	}
}
