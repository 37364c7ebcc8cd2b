package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/market"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", "test-token", 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient("", "tok", 0)
	assert.Error(t, err)

	c, err := NewClient("http://localhost:8080/", "tok", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
}

func TestPlaceOrder_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)

		var o broker.Order
		require.NoError(t, json.NewDecoder(r.Body).Decode(&o))
		assert.Equal(t, "ETHUSD", o.Instrument)
		assert.Equal(t, broker.MarketBuy, o.Kind)

		json.NewEncoder(w).Encode(broker.Fill{Status: broker.Filled, OrderID: "42", PositionID: "p1", Price: 3000, Volume: o.Volume})
	})

	fill, err := c.PlaceOrder(context.Background(), broker.Order{Instrument: "ETHUSD", Kind: broker.MarketBuy, Volume: 0.05})
	require.NoError(t, err)
	assert.Equal(t, broker.Filled, fill.Status)
	assert.Equal(t, "p1", fill.PositionID)
	assert.Equal(t, 0.05, fill.Volume)
}

func TestPlaceOrder_UnreadableReplyIsNotRetryable(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"status":"filled","order_id":"42","posi`))
	})

	_, err := c.PlaceOrder(context.Background(), broker.Order{Instrument: "ETHUSD", Kind: broker.MarketBuy, Volume: 0.05})
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrOutcomeUnknown)
	assert.True(t, broker.Permanent(err))
	assert.Equal(t, 1, calls)

	// reads stay retryable
	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balance":`))
	})
	_, err = c.AccountInfo(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, broker.ErrOutcomeUnknown)
	assert.False(t, broker.Permanent(err))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rejected", http.StatusUnprocessableEntity, `{"code":"invalid_volume","message":"volume too small"}`, broker.ErrRejected},
		{"unknown instrument", http.StatusBadRequest, `{"code":"unknown_instrument","message":"FOO"}`, broker.ErrUnknownInstrument},
		{"position missing", http.StatusBadRequest, `{"code":"position_not_found","message":"p9"}`, broker.ErrPositionNotFound},
		{"not found", http.StatusNotFound, `nope`, broker.ErrUnknownInstrument},
		{"busy", http.StatusServiceUnavailable, `terminal busy`, broker.ErrUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, broker.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.PlaceOrder(context.Background(), broker.Order{Instrument: "FOO", Kind: broker.MarketBuy, Volume: 1})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, "", time.Second)
	require.NoError(t, err)
	_, err = c.AccountInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrUnavailable)
	assert.False(t, broker.Permanent(err))
}

func TestReadEndpoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		switch {
		case r.URL.Path == "/account":
			enc.Encode(broker.Account{Balance: 10000, Equity: 10050, MarginLevel: 500})
		case r.URL.Path == "/positions":
			enc.Encode([]broker.Position{{ID: "1", Instrument: "BTCUSD", Side: broker.SideBuy, Volume: 0.01}})
		case r.URL.Path == "/deals":
			assert.Equal(t, "2025-01-02T00:00:00Z", r.URL.Query().Get("from"))
			enc.Encode([]broker.Deal{{ID: "d1", Profit: -12.5}})
		case strings.HasPrefix(r.URL.Path, "/prices/"):
			enc.Encode(map[string]float64{"bid": 1.1, "ask": 1.2})
		case strings.HasPrefix(r.URL.Path, "/instruments/"):
			enc.Encode(market.InstrumentSpec{Name: "US2000", MinVolume: 0.1, VolumeStep: 0.1, Tradeable: true})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	acct, err := c.AccountInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10050.0, acct.Equity)

	pos, err := c.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "BTCUSD", pos[0].Instrument)

	from := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	deals, err := c.DealHistory(ctx, from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, deals, 1)
	assert.Equal(t, -12.5, deals[0].Net())

	q, err := c.CurrentPrice(ctx, "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", q.Instrument)
	assert.InDelta(t, 1.15, q.Mid(), 1e-9)

	spec, err := c.InstrumentInfo(ctx, "US2000")
	require.NoError(t, err)
	assert.Equal(t, 0.1, spec.MinVolume)

	assert.NoError(t, c.Close())
}

func TestCurrentPrice_UsesFreshCachedQuote(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]float64{"bid": 2.0, "ask": 2.2})
	})
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	store := market.NewQuoteStore()
	store.Set(market.Quote{Instrument: "ETHUSD", Bid: 3000, Ask: 3001, Time: now.Add(-time.Second)})
	store.Set(market.Quote{Instrument: "BTCUSD", Bid: 60000, Ask: 60010, Time: now.Add(-time.Minute)})
	c.UseQuotes(store, 5*time.Second)

	q, err := c.CurrentPrice(context.Background(), "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, q.Bid)
	assert.Equal(t, 0, calls)

	// stale cache entry goes to the bridge
	q, err = c.CurrentPrice(context.Background(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 2.0, q.Bid)
	assert.Equal(t, 1, calls)
}

func TestStream_StoresQuotes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		conn.WriteJSON(quoteMsg{Type: "price", Instrument: "BTCUSD", Bid: 60000, Ask: 60010, Time: time.Now().UTC()})
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	store := market.NewQuoteStore()
	got := make(chan market.Quote, 1)
	s := &Stream{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		Instruments: []string{"BTCUSD"},
		Store:       store,
		Log:         zerolog.Nop(),
		OnQuote:     func(q market.Quote) { got <- q },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case q := <-got:
		assert.Equal(t, "BTCUSD", q.Instrument)
	case <-time.After(5 * time.Second):
		t.Fatal("no quote received")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}

	q, err := store.Get("BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 10.0, q.Spread())
}

func TestStream_RequiresStore(t *testing.T) {
	s := &Stream{URL: "ws://localhost:1"}
	assert.Error(t, s.Run(context.Background()))
}
