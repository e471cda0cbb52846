// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/internal/config"
	"github.com/xkilldash9x/suture-cli/internal/observability"
)

// configKey carries the loaded *config.Config through the command context so
// subcommands never reach for package-level state.
type contextKey int

const configKey contextKey = iota

func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// getConfigFromContext recovers the configuration installed by the root
// command's PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration missing from command context")
	}
	return cfg, nil
}

// NewRootCommand builds a fresh root command tree. Every invocation gets its
// own instance so flags and config never leak between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "suture-cli",
		Short: "Suture watches a live web application and stitches it back together when it tears.",
		Long: `Suture runs a detect/remediate/validate loop against the targets you declare:
headless-browser sweeps and API probes find defects, a strategy chain repairs
what it can, a check battery scores the result, and every cycle lands in the
persisted state and report history.`,
		// Version is set at build time. See cmd/version.go.
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			} else {
				v.AddConfigPath(".")
				v.AddConfigPath("$HOME/.suture")
				v.SetConfigName("suture")
				v.SetConfigType("yaml")
			}

			v.SetEnvPrefix("SUTURE")
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			v.AutomaticEnv()

			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return fmt.Errorf("error reading config file: %w", err)
				}
				// No config file; defaults, env and flags carry the run.
			}

			// Flag overrides bind onto this viper instance before unmarshal
			// so precedence lands flags > env > file > defaults.
			bindLoopFlags(v, cmd)

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				// A fallback logger keeps the failure visible.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "suture-cli"})
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting suture-cli", zap.String("version", Version))

			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./suture.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newReportCmd())

	return rootCmd
}

// bindLoopFlags maps the watch command's override flags to their config keys.
// Lookups are nil-safe because PersistentPreRunE runs for every subcommand
// and only watch declares these flags.
func bindLoopFlags(v *viper.Viper, cmd *cobra.Command) {
	for flagName, key := range map[string]string{
		"interval":    "monitor.interval",
		"max-cycles":  "monitor.max_cycles",
		"backend-log": "monitor.backend_log",
	} {
		if f := cmd.Flags().Lookup(flagName); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// Execute runs the CLI against a signal-aware context and reports the outcome
// to the caller; main turns the error into an exit code.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}
