// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
)

var (
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pilot-cli",
	Short: "Pilot drives a real browser from natural language goals.",
	Long: `Pilot relays your goals to a hosted computer-use model and executes the
browser actions it proposes (clicking, typing, scrolling, navigating),
feeding screenshots back until the goal is answered.`,
	// Version is dynamically set at build time. See cmd/version.go.
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// This function runs before any command, setting up config and logging.
		if err := initializeConfig(); err != nil {
			return err
		}

		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			// Initialize a fallback logger if config unmarshal fails
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "pilot-cli"})
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting pilot-cli", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command with a signal-aware context.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		observability.Sync()
		os.Exit(1)
	}
	observability.Sync()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.pilot-cli/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig loads the .env file, defaults, config file, and env vars.
func initializeConfig() error {
	// Populate the process environment from a local .env first so viper's
	// env bindings see the API key.
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".pilot-cli"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}
	return nil
}
