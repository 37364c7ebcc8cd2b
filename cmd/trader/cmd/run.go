package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/mtftrader/api"
	"github.com/rustyeddy/mtftrader/logging"
	"github.com/rustyeddy/mtftrader/trader"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading loop and control API",
	Long: `Run the analysis cycle on every configured instrument, execute approved
trades through the configured gateway and serve the HTTP control API.

Bars are read from CSV files in app.bars_dir (INSTRUMENT_RES.csv, or
INSTRUMENT_M1.csv resampled). On SIGINT or SIGTERM the order queue is
drained before exit.

Example:
  mtftrader run -c mtftrader.yaml --bars ./data --api :8080`,
	RunE: runRun,
}

var (
	runBarsDir   string
	runAPIAddr   string
	runAutoTrade bool
	runDrainWait time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runBarsDir, "bars", "", "directory of CSV bar files (overrides app.bars_dir)")
	runCmd.Flags().StringVar(&runAPIAddr, "api", "", "control API listen address (overrides app.api_addr)")
	runCmd.Flags().BoolVar(&runAutoTrade, "auto-trade", false, "submit orders for actionable decisions")
	runCmd.Flags().DurationVar(&runDrainWait, "drain-timeout", 30*time.Second, "how long to drain queued orders on shutdown")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runBarsDir != "" {
		cfg.App.BarsDir = runBarsDir
	}
	if runAPIAddr != "" {
		cfg.App.APIAddr = runAPIAddr
	}
	if cmd.Flags().Changed("auto-trade") {
		cfg.App.AutoTrade = runAutoTrade
	}
	if cfg.App.BarsDir == "" {
		return errors.New("no bar source: set app.bars_dir or --bars")
	}

	log := newLogger(cfg)
	st, err := build(cfg, trader.DirBars{Dir: cfg.App.BarsDir}, log)
	if err != nil {
		return fmt.Errorf("wire: %w", err)
	}
	defer st.Close()

	fmt.Printf("Running %d instruments every %s (gateway: %s, auto-trade: %v)\n",
		len(cfg.App.Instruments), cfg.App.CycleInterval, cfg.Gateway.Kind, cfg.App.AutoTrade)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	errCh := make(chan error, 3)
	go func() { errCh <- st.svc.Run(runCtx) }()

	if s := st.stream(); s != nil {
		go func() {
			if err := s.Run(runCtx); err != nil {
				log.Error().Err(err).Msg("quote stream stopped")
			}
		}()
	}

	var srv *api.Server
	if cfg.App.APIAddr != "" {
		srv = api.NewServer(api.ServerConfig{Addr: cfg.App.APIAddr, ProductionMode: true}, st.svc, logging.Component(log, "api"))
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		fmt.Printf("✓ Control API listening on %s\n", cfg.App.APIAddr)
	}

	var runErr error
	select {
	case <-sigCtx.Done():
		log.Info().Msg("shutdown requested")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("service stopped")
	}

	var errs []error
	errs = append(errs, runErr)
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, srv.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, st.shutdown(runDrainWait))
	cancelRun()

	snap := st.svc.PositionSnapshot()
	fmt.Printf("✓ Stopped: %d orders, %d filled, %d open positions\n",
		snap.Stats.TotalOrders, snap.Stats.Successful, snap.Stats.OpenPositions)
	return errors.Join(errs...)
}
