package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mearec/mealog/internal/config"
	"github.com/mearec/mealog/internal/service"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "mealog",
	Short: "Multi-channel electrophysiology recorder",
	Long: `mealog records continuous multi-channel electrode array data into a
chunked, pre-allocated container file.

Recordings can be read, queried and finalized while they are being written.
Settings come from named profiles in $HOME/.config/mealog.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		if cmd.Name() == "sources" {
			return nil
		}

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = os.ExpandEnv("$HOME/.config/mealog.yaml")
		}

		// Without a config file the built-in defaults apply
		if _, err := os.Stat(cfgFile); !explicit && profile == "" && os.IsNotExist(err) {
			slog.Debug("No config file, using defaults", "path", cfgFile)
			cfg = config.Default()
			return cfg.Validate()
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mealog.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=debug with trace spans")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// newService creates a service over the loaded configuration
func newService(opts service.Options) *service.MealogService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return service.New(cfg, cfgFile, opts)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))
}
