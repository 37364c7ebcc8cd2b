package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/mtftrader/config"
)

var rootCmd = &cobra.Command{
	Use:   "mtftrader",
	Short: "Multi-timeframe confluence trading engine",
	Long: `mtftrader scores technical indicators on several bar resolutions,
aggregates them into a confluence decision, sizes the trade under
regime-aware risk limits and executes it through a brokerage gateway.

It provides tools for:
  - Analyzing instruments from CSV bar history
  - Running the trading loop with an HTTP control API
  - Demonstrating the full pipeline against the simulated gateway
  - Generating and validating configuration files`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	envFiles []string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults are used when empty")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", []string{".env"}, "dotenv files loaded before MTF_* overrides")
}

// loadConfig reads the dotenv files and then the config file, or the
// defaults with the environment applied.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFiles...); err != nil {
		return nil, err
	}
	if cfgFile != "" {
		cfg, err := config.LoadFromFile(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	return envDefaults()
}
