package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/mtftrader/market"
)

const (
	pingInterval = 15 * time.Second
	readTimeout  = 30 * time.Second
)

// quoteMsg is one frame of the quote feed. Heartbeats carry no instrument.
type quoteMsg struct {
	Type       string    `json:"type"`
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Time       time.Time `json:"time"`
}

// Stream pushes quotes from the bridge websocket into a QuoteStore.
type Stream struct {
	URL         string
	Instruments []string
	Store       *market.QuoteStore
	Log         zerolog.Logger

	// OnQuote, if set, is called after each stored quote.
	OnQuote func(market.Quote)
}

// Run consumes the feed until ctx is done, reconnecting with exponential
// backoff after disconnects.
func (s *Stream) Run(ctx context.Context) error {
	if s.URL == "" || s.Store == nil {
		return errors.New("bridge: stream needs a url and a quote store")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	op := func() error {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		s.Log.Warn().Err(err).Str("url", s.URL).Msg("quote stream disconnected, retrying")
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (s *Stream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if len(s.Instruments) > 0 {
		sub := map[string]any{"type": "subscribe", "instruments": s.Instruments}
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
	}
	s.Log.Info().Str("url", s.URL).Strs("instruments", s.Instruments).Msg("quote stream connected")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingCtx.Done():
				// unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg quoteMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Log.Warn().Err(err).Msg("bad quote frame")
			continue
		}
		if msg.Type == "heartbeat" || msg.Instrument == "" || msg.Bid <= 0 || msg.Ask <= 0 {
			continue
		}
		if msg.Time.IsZero() {
			msg.Time = time.Now().UTC()
		}
		q := market.Quote{Instrument: msg.Instrument, Bid: msg.Bid, Ask: msg.Ask, Time: msg.Time}
		s.Store.Set(q)
		if s.OnQuote != nil {
			s.OnQuote(q)
		}
	}
}
