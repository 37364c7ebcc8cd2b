package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/mtftrader/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the audit journal",
	Long: `Query and display audit records from the SQLite journal.

Subcommands:
  order   - Lifecycle of one order
  today   - Position events recorded today
  day     - Position events recorded on a specific day
  regimes - Every regime change

Examples:
  mtftrader journal order 01J9Z3...
  mtftrader journal today
  mtftrader journal day 2025-01-15`,
}

var journalOrderCmd = &cobra.Command{
	Use:   "order <order-id>",
	Short: "Show the lifecycle of one order",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalOrder,
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List position events recorded today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJournalDay(cmd, []string{time.Now().Format("2006-01-02")})
	},
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List position events recorded on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalDay,
}

var journalRegimesCmd = &cobra.Command{
	Use:   "regimes",
	Short: "List regime changes",
	Args:  cobra.NoArgs,
	RunE:  runJournalRegimes,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalOrderCmd)
	journalCmd.AddCommand(journalTodayCmd)
	journalCmd.AddCommand(journalDayCmd)
	journalCmd.AddCommand(journalRegimesCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./mtftrader.db", "path to SQLite journal DB")
}

func runJournalOrder(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	events, err := j.OrderHistory(args[0])
	if err != nil {
		return fmt.Errorf("order history: %w", err)
	}
	if len(events) == 0 {
		return fmt.Errorf("no events for order %s", args[0])
	}
	first := events[0]
	fmt.Printf("* Order %s %s %s %.2f (priority %s, owner %s)\n",
		first.OrderID, first.Kind, first.Instrument, first.Volume, first.Priority, first.Owner)
	for _, e := range events {
		fmt.Printf("  - %s %-16s", e.Time.Format(time.RFC3339), e.State)
		if e.Price != 0 {
			fmt.Printf(" @ %.5g", e.Price)
		}
		if e.Retries > 0 {
			fmt.Printf(" retries=%d", e.Retries)
		}
		if e.Message != "" {
			fmt.Printf(" %s", e.Message)
		}
		fmt.Println()
	}
	return nil
}

func runJournalDay(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	start, end, err := dayBounds(time.Local, args[0])
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	events, err := j.PositionHistory(start, end)
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}

	fmt.Printf("* Positions %s (%d events)\n", args[0], len(events))
	var pnl float64
	for _, e := range events {
		fmt.Printf("  - %s %-8s %-8s %-4s %6.2f open %.5g px %.5g pnl %+.2f [%s]\n",
			e.Time.Format("15:04:05"), e.PositionID, e.Instrument, e.Side, e.Volume, e.OpenPrice, e.Price, e.PnL, e.State)
		if e.State == "closed" {
			pnl += e.PnL
		}
	}
	fmt.Printf("  Closed P/L: %+.2f\n", pnl)
	return nil
}

func runJournalRegimes(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	changes, err := j.RegimeHistory()
	if err != nil {
		return fmt.Errorf("regime history: %w", err)
	}
	for _, c := range changes {
		fmt.Printf("%s  %s -> %s  %s\n", c.Time.Format(time.RFC3339), c.From, c.To, c.Reason)
	}
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := start.Add(24 * time.Hour)
	return start, end, nil
}
