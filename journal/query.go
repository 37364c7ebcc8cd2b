package journal

import (
	"time"
)

// OrderHistory returns every recorded transition of orderID in insertion order.
func (j *SQLite) OrderHistory(orderID string) ([]OrderEvent, error) {
	rows, err := j.db.Query(`
		SELECT time, order_id, instrument, kind, state, priority, volume, price, retries, owner, message
		FROM order_events
		WHERE order_id = ?
		ORDER BY id ASC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(
			&e.Time, &e.OrderID, &e.Instrument, &e.Kind, &e.State, &e.Priority,
			&e.Volume, &e.Price, &e.Retries, &e.Owner, &e.Message,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PositionHistory returns position events recorded within [start, end).
func (j *SQLite) PositionHistory(start, end time.Time) ([]PositionEvent, error) {
	rows, err := j.db.Query(`
		SELECT time, position_id, instrument, side, volume, open_price, price, pnl, state, owner
		FROM position_events
		WHERE time >= ? AND time < ?
		ORDER BY id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PositionEvent
	for rows.Next() {
		var e PositionEvent
		if err := rows.Scan(
			&e.Time, &e.PositionID, &e.Instrument, &e.Side, &e.Volume,
			&e.OpenPrice, &e.Price, &e.PnL, &e.State, &e.Owner,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) RegimeHistory() ([]RegimeChange, error) {
	rows, err := j.db.Query(`
		SELECT time, from_regime, to_regime, reason
		FROM regime_changes
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RegimeChange
	for rows.Next() {
		var c RegimeChange
		if err := rows.Scan(&c.Time, &c.From, &c.To, &c.Reason); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EquityBetween returns snapshots with time in [start, end).
func (j *SQLite) EquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT time, balance, equity, margin, free_margin, margin_level
		FROM equity
		WHERE time >= ? AND time < ?
		ORDER BY time ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.Time, &e.Balance, &e.Equity, &e.Margin, &e.FreeMargin, &e.MarginLevel); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
