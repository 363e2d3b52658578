package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/me/rumpsched/internal/config"
	"github.com/me/rumpsched/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.RuntimeConfig
	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking RUMPSCHED_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("RUMPSCHED_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the rumpsched CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rumpsched",
		Short: "rumpsched: cooperative single-vCPU thread scheduler",
		Long: "rumpsched runs workloads on a simulated unikernel scheduler, records\n" +
			"their context-switch traces and serves them over HTTP.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg = config.DefaultRuntimeConfig()
			if flagConfig != "" {
				if cfg, err = config.Load(flagConfig); err != nil {
					return err
				}
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") || flagConfig == "" {
				cfg.LogLevel = flagLogLevel
			}
			if flags.Changed("log-format") || flagConfig == "" {
				cfg.LogFormat = flagLogFormat
			}
			if flagDebug {
				cfg.LogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML runtime config file")
	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "rumpsched server URL (or RUMPSCHED_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json, auto)")

	root.AddCommand(
		newRunCmd(),
		newScenariosCmd(),
		newRunsCmd(),
		newEventsCmd(),
		newServeCmd(),
	)

	return root
}

// validateConfig re-checks cfg after command flags changed it.
func validateConfig() error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
