package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	for _, name := range []string{"order_events", "position_events", "regime_changes", "equity", "peaks"} {
		assert.True(t, found[name], name)
	}
}

func TestSQLiteOrderHistory(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, state := range []string{"pending", "validating", "approved", "executing", "filled"} {
		require.NoError(t, j.RecordOrder(OrderEvent{
			Time: ts.Add(time.Duration(i) * time.Second), OrderID: "ord-1", Instrument: "BTCUSD",
			Kind: "market_buy", State: state, Priority: "normal", Volume: 0.01, Owner: "mtf",
		}))
	}
	require.NoError(t, j.RecordOrder(OrderEvent{Time: ts, OrderID: "ord-2", State: "rejected", Message: "volume below minimum"}))

	events, err := j.OrderHistory("ord-1")
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, "pending", events[0].State)
	assert.Equal(t, "filled", events[4].State)
	assert.True(t, events[0].Time.Equal(ts))
	assert.InDelta(t, 0.01, events[4].Volume, 1e-9)

	other, err := j.OrderHistory("ord-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "volume below minimum", other[0].Message)
}

func TestSQLitePositionsRegimesEquity(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	defer j.Close()

	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, j.RecordPosition(PositionEvent{Time: ts, PositionID: "p1", Instrument: "ETHUSD", Side: "buy", Volume: 0.05, OpenPrice: 3000, Price: 3000, State: "open", Owner: "mtf"}))
	require.NoError(t, j.RecordPosition(PositionEvent{Time: ts.Add(time.Hour), PositionID: "p1", Instrument: "ETHUSD", Side: "buy", Volume: 0.05, OpenPrice: 3000, Price: 3100, PnL: 25, State: "closed", Owner: "mtf"}))
	require.NoError(t, j.RecordRegime(RegimeChange{Time: ts, From: "normal", To: "news_event", Reason: "CPI release"}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{Time: ts, Balance: 1000.1, Equity: 999.9, Margin: 10.5, FreeMargin: 989.4, MarginLevel: 9523}))

	pos, err := j.PositionHistory(ts, ts.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "open", pos[0].State)

	pos, err = j.PositionHistory(ts, ts.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, pos, 2)
	assert.InDelta(t, 25, pos[1].PnL, 1e-9)

	reg, err := j.RegimeHistory()
	require.NoError(t, err)
	require.Len(t, reg, 1)
	assert.Equal(t, "news_event", reg[0].To)
	assert.Equal(t, "CPI release", reg[0].Reason)

	eq, err := j.EquityBetween(ts.Add(-time.Minute), ts.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.InDelta(t, 989.4, eq[0].FreeMargin, 1e-6)
}

func TestSQLitePeakOnlyRises(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	ctx := context.Background()

	_, ok, err := j.LoadPeak(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.SavePeak(ctx, "acct", 10000))
	require.NoError(t, j.SavePeak(ctx, "acct", 12000))
	require.NoError(t, j.SavePeak(ctx, "acct", 11000))
	require.NoError(t, j.Close())

	// survives reopen
	j2, err := NewSQLite(path)
	require.NoError(t, err)
	defer j2.Close()

	peak, ok, err := j2.LoadPeak(ctx, "acct")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12000.0, peak)
}
