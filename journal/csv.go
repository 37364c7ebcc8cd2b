package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	orderHeader    = []string{"time", "order_id", "instrument", "kind", "state", "priority", "volume", "price", "retries", "owner", "message"}
	positionHeader = []string{"time", "position_id", "instrument", "side", "volume", "open_price", "price", "pnl", "state", "owner"}
	regimeHeader   = []string{"time", "from", "to", "reason"}
	equityHeader   = []string{"time", "balance", "equity", "margin", "free_margin", "margin_level"}
)

// CSVJournal writes one file per record type into a directory.
type CSVJournal struct {
	mu    sync.Mutex
	files []*os.File
	order *csv.Writer
	pos   *csv.Writer
	reg   *csv.Writer
	eq    *csv.Writer
}

func NewCSV(dir string) (*CSVJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	j := &CSVJournal{}
	open := func(name string, header []string) (*csv.Writer, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.order, err = open("orders.csv", orderHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if j.pos, err = open("positions.csv", positionHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if j.reg, err = open("regime.csv", regimeHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if j.eq, err = open("equity.csv", equityHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) write(w *csv.Writer, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSVJournal) RecordOrder(e OrderEvent) error {
	return j.write(j.order, []string{
		ts(e.Time), e.OrderID, e.Instrument, e.Kind, e.State, e.Priority,
		f(e.Volume), f(e.Price), strconv.Itoa(e.Retries), e.Owner, e.Message,
	})
}

func (j *CSVJournal) RecordPosition(e PositionEvent) error {
	return j.write(j.pos, []string{
		ts(e.Time), e.PositionID, e.Instrument, e.Side, f(e.Volume),
		f(e.OpenPrice), f(e.Price), f(e.PnL), e.State, e.Owner,
	})
}

func (j *CSVJournal) RecordRegime(c RegimeChange) error {
	return j.write(j.reg, []string{ts(c.Time), c.From, c.To, c.Reason})
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	return j.write(j.eq, []string{
		ts(e.Time), f(e.Balance), f(e.Equity), f(e.Margin), f(e.FreeMargin), f(e.MarginLevel),
	})
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, w := range []*csv.Writer{j.order, j.pos, j.reg, j.eq} {
		w.Flush()
		if err := w.Error(); err != nil {
			j.closeFiles()
			return err
		}
	}
	return j.closeFiles()
}

func (j *CSVJournal) closeFiles() error {
	var first error
	for _, fh := range j.files {
		if err := fh.Close(); err != nil && first == nil {
			first = err
		}
	}
	j.files = nil
	return first
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
