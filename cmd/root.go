// cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/focusfix/internal/config"
	"github.com/xkilldash9x/focusfix/internal/observability"
)

type contextKey int

const configKey contextKey = iota

// configKeyAnnotation marks a flag as an override for a config key.
const configKeyAnnotation = "focusfix/config-key"

// envPrefix scopes environment overrides, e.g. FOCUSFIX_AGENT_MAX_CYCLES.
const envPrefix = "FOCUSFIX"

// NewRootCommand builds a fresh command tree. Each invocation gets its own
// viper instance, so commands can be executed repeatedly in one process.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "focusfix",
		Short:         "focusfix audits and repairs keyboard focus visibility on live pages.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "focusfix"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting focusfix", zap.String("version", Version), zap.String("command", cmd.Name()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate("focusfix version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	bindFlag(rootCmd.PersistentFlags(), "log-level", "logger.level")

	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newRemediateCmd())
	rootCmd.AddCommand(newTabsCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the command tree against os.Args with ctx as the base
// context. Errors are logged before they are returned.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			observability.GetLogger().Warn("Command aborted by signal")
			return err
		}
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// initializeConfig layers the config file, FOCUSFIX_ environment variables
// and any annotated flags over the defaults already set on v.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	var bindErr error
	visit := func(f *pflag.Flag) {
		keys, ok := f.Annotations[configKeyAnnotation]
		if !ok || bindErr != nil {
			return
		}
		for _, key := range keys {
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = fmt.Errorf("bind --%s to %s: %w", f.Name, key, err)
				return
			}
		}
	}
	// Flags() holds the inherited persistent flags once cobra has parsed.
	cmd.Flags().VisitAll(visit)
	return bindErr
}

// bindFlag records that flag overrides key. The binding happens at run time
// against the invocation's viper instance.
func bindFlag(flags *pflag.FlagSet, flag, key string) {
	if err := flags.SetAnnotation(flag, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("bind flag %q: %v", flag, err))
	}
}

// configFromContext returns the configuration PersistentPreRunE stored.
func configFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
