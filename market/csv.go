package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReadBarsCSV reads rows of time,open,high,low,close[,volume]. The time
// column may be RFC3339 or Unix seconds. A header row is skipped.
func ReadBarsCSV(r io.Reader, instrument string, res Resolution) (BarSeries, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	out := BarSeries{Instrument: instrument, Resolution: res}
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		line++
		if len(rec) < 5 {
			return out, fmt.Errorf("line %d: want at least 5 columns, got %d", line, len(rec))
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "time") {
			continue
		}

		ts, err := parseBarTime(rec[0])
		if err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [5]float64
		n := 4
		if len(rec) > 5 {
			n = 5
		}
		for i := 0; i < n; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return out, fmt.Errorf("line %d col %d: %w", line, i+2, err)
			}
			vals[i] = v
		}
		out.Bars = append(out.Bars, Bar{
			Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
	}
	return out, out.Validate()
}

// LoadBarsCSV opens path and reads it with ReadBarsCSV.
func LoadBarsCSV(path, instrument string, res Resolution) (BarSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return BarSeries{}, err
	}
	defer f.Close()
	return ReadBarsCSV(f, instrument, res)
}

func parseBarTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q", s)
	}
	return t.UTC(), nil
}
