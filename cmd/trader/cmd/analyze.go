package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/mtftrader/config"
	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/market"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/trader"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze an instrument from CSV bars",
	Long: `Score every configured resolution of one instrument from a CSV file of
bars and print the confluence decision. Coarser resolutions are resampled
from the input. No orders are placed.

CSV columns: time,open,high,low,close[,volume] with RFC3339 or Unix times.

Examples:
  mtftrader analyze -f btc_m1.csv -i BTCUSD
  mtftrader analyze -f eth_h1.csv -i ETHUSD -r H1 --json`,
	RunE: runAnalyze,
}

var (
	analyzeFile       string
	analyzeInstrument string
	analyzeResolution string
	analyzeJSON       bool
)

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "CSV bar file (required)")
	analyzeCmd.Flags().StringVarP(&analyzeInstrument, "instrument", "i", "", "instrument name (required)")
	analyzeCmd.Flags().StringVarP(&analyzeResolution, "resolution", "r", "M1", "resolution of the input bars")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the decision as JSON")
	analyzeCmd.MarkFlagRequired("file")
	analyzeCmd.MarkFlagRequired("instrument")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	res, err := market.ParseResolution(analyzeResolution)
	if err != nil {
		return err
	}
	series, err := market.LoadBarsCSV(analyzeFile, analyzeInstrument, res)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}

	d, err := analyzeSeries(cfg, series)
	if err != nil {
		return err
	}
	if analyzeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	printDecision(d)
	return nil
}

// analyzeSeries runs a memory-only stack over series and its coarser
// resamples.
func analyzeSeries(cfg *config.Config, series market.BarSeries) (confluence.Decision, error) {
	c := *cfg
	c.Gateway.Kind = "sim"
	c.Journal = config.JournalConfig{Type: "memory"}
	c.Peak = config.PeakConfig{Type: "none"}

	agg, err := confluence.New(c.Strategy.Confluence())
	if err != nil {
		return confluence.Decision{}, err
	}
	var coarser []market.Resolution
	for _, r := range agg.Resolutions() {
		if r.Duration() >= series.Resolution.Duration() {
			coarser = append(coarser, r)
		}
	}
	bars := trader.NewStaticBars()
	if err := bars.SetResampled(series, coarser); err != nil {
		return confluence.Decision{}, err
	}

	st, err := build(&c, bars, zerolog.Nop())
	if err != nil {
		return confluence.Decision{}, err
	}
	defer st.Close()
	return st.svc.Analyze(context.Background(), series.Instrument)
}

func printDecision(d confluence.Decision) {
	fmt.Printf("=== %s ===\n", d.Instrument)
	for _, s := range d.Signals {
		fmt.Printf("  %-4s %-8s strength %.2f  confidence %.2f  (%d/%d rules)\n",
			s.Resolution, s.Direction, s.Strength, s.Confidence, s.NonZeroCount, s.ActiveCount)
	}
	fmt.Println()
	fmt.Printf("Action:      %s\n", d.Action)
	fmt.Printf("Direction:   %s (score %+.3f)\n", d.Direction, d.Score)
	fmt.Printf("Confluence:  %.2f\n", d.ConfluenceScore)
	fmt.Printf("Strength:    %.2f\n", d.Strength)
	fmt.Printf("Risk tier:   %s (size x%.2f)\n", d.RiskTier, d.SizeMultiplier)
}

func printRisk(d risk.Decision) {
	if d.Approved() {
		fmt.Printf("  risk: approved %.2f lots (regime %s)\n", d.LotSize, d.Metrics.Regime)
		return
	}
	fmt.Printf("  risk: %s %s: %s\n", d.Outcome, d.Code, d.Reason)
}

func printPositions(ps []execution.Position) {
	if len(ps) == 0 {
		fmt.Println("  (no positions)")
		return
	}
	for _, p := range ps {
		fmt.Printf("  %-8s %-6s %-4s %6.2f @ %.2f  pnl %+.2f  [%s]\n",
			p.ID, p.Instrument, p.Side, p.Volume, p.OpenPrice, p.UnrealizedPnL+p.RealizedPnL, p.Status)
	}
}
