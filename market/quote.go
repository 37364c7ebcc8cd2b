package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNoQuote = errors.New("no quote for instrument")

// Quote is the current bid/ask for an instrument.
type Quote struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Time       time.Time `json:"time"`
}

func (q Quote) Mid() float64    { return (q.Bid + q.Ask) / 2 }
func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// Side returns the price a market order of the given direction fills at:
// the ask for buys, the bid for sells.
func (q Quote) Side(buy bool) float64 {
	if buy {
		return q.Ask
	}
	return q.Bid
}

// QuoteStore keeps the latest quote per instrument. Safe for concurrent use.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]Quote)}
}

// Set stores q unless a newer quote is already held.
func (s *QuoteStore) Set(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.quotes[q.Instrument]; ok && old.Time.After(q.Time) {
		return
	}
	s.quotes[q.Instrument] = q
}

func (s *QuoteStore) Get(instrument string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[instrument]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrNoQuote, instrument)
	}
	return q, nil
}

// Instruments lists the instruments with a stored quote.
func (s *QuoteStore) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.quotes))
	for k := range s.quotes {
		out = append(out, k)
	}
	return out
}
