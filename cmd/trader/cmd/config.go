package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/mtftrader/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage mtftrader configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  mtftrader config init -o mtftrader.yaml
  mtftrader config validate -f mtftrader.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings.

Example:
  mtftrader config init -o mtftrader.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded. MTF_*
environment overrides are applied first.

Example:
  mtftrader config validate -f mtftrader.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "mtftrader.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  mtftrader run -c %s --bars ./data\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnv(envFiles...); err != nil {
		return err
	}
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Instruments: %v (every %s, auto-trade: %v)\n", cfg.App.Instruments, cfg.App.CycleInterval, cfg.App.AutoTrade)
	fmt.Printf("  Gateway: %s\n", cfg.Gateway.Kind)
	fmt.Printf("  Strategy: %s (threshold %.2f)\n", cfg.Strategy.Mode, cfg.Strategy.Confluence().ConfluenceThreshold)
	fmt.Printf("  Risk: regime %s, %d instruments\n", cfg.Risk.Regime, len(cfg.Risk.Instruments))
	fmt.Printf("  Journal: %s, peak store: %s\n", cfg.Journal.Type, cfg.Peak.Type)
	return nil
}
