// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/internal/config"
	"github.com/xkilldash9x/caliper-cli/internal/observability"
)

type configKey struct{}

// withConfig stashes the resolved configuration on the command context.
func withConfig(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// configFromContext returns the configuration placed by the root
// PersistentPreRunE.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration missing from command context")
	}
	return cfg, nil
}

// NewRootCommand builds a fresh command tree. Every call gets its own viper
// instance so repeated executions cannot leak flag state into each other.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	var (
		cfgFile   string
		logLevel  string
		logFormat string
	)

	root := &cobra.Command{
		Use:           "caliper",
		Short:         "Caliper drives browser scenarios and measures Core Web Vitals.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeViper(v, cfgFile); err != nil {
				return err
			}
			if logLevel != "" {
				v.Set("logger.level", logLevel)
			}
			if logFormat != "" {
				v.Set("logger.format", logFormat)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				// A fallback logger so the failure is still visible somewhere.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "caliper-cli"})
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration resolved.", zap.String("version", Version))

			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log verbosity: debug, info, warn or error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log encoding: console or json")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(v),
		newCheckCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	return root
}

// Execute runs the CLI against a signal-aware context and reports the outcome
// through the configured logger.
func Execute(ctx context.Context) error {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command failed.", zap.Error(err))
		return err
	}
	return nil
}

// initializeViper layers defaults, the config file and CALIPER_* environment
// variables, in ascending precedence.
func initializeViper(v *viper.Viper, cfgFile string) error {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CALIPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine; defaults and environment carry it.
	}
	return nil
}
