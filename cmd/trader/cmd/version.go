package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the mtftrader CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mtftrader version %s\n", version)
		fmt.Println("Multi-timeframe confluence trading engine")
		fmt.Println("https://github.com/rustyeddy/mtftrader")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
