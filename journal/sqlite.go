package journal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordOrder(e OrderEvent) error {
	_, err := j.db.Exec(`
		INSERT INTO order_events
		(time, order_id, instrument, kind, state, priority, volume, price, retries, owner, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.OrderID, e.Instrument, e.Kind, e.State, e.Priority,
		e.Volume, e.Price, e.Retries, e.Owner, e.Message,
	)
	return err
}

func (j *SQLite) RecordPosition(e PositionEvent) error {
	_, err := j.db.Exec(`
		INSERT INTO position_events
		(time, position_id, instrument, side, volume, open_price, price, pnl, state, owner)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.PositionID, e.Instrument, e.Side, e.Volume,
		e.OpenPrice, e.Price, e.PnL, e.State, e.Owner,
	)
	return err
}

func (j *SQLite) RecordRegime(c RegimeChange) error {
	_, err := j.db.Exec(`
		INSERT INTO regime_changes (time, from_regime, to_regime, reason)
		VALUES (?, ?, ?, ?)`,
		c.Time.UTC(), c.From, c.To, c.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, balance, equity, margin, free_margin, margin_level)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Balance, e.Equity, e.Margin, e.FreeMargin, e.MarginLevel,
	)
	return err
}

// LoadPeak returns the stored high-water mark for account. ok is false when
// none has been saved.
func (j *SQLite) LoadPeak(ctx context.Context, account string) (float64, bool, error) {
	var peak float64
	err := j.db.QueryRowContext(ctx, `SELECT peak FROM peaks WHERE account = ?`, account).Scan(&peak)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return peak, true, nil
}

// SavePeak stores peak unless a higher value is already recorded.
func (j *SQLite) SavePeak(ctx context.Context, account string, peak float64) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO peaks (account, peak, updated) VALUES (?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			peak = MAX(peak, excluded.peak),
			updated = excluded.updated`,
		account, peak, time.Now().UTC(),
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
