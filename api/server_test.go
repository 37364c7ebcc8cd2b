package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/mtftrader/confluence"
	"github.com/rustyeddy/mtftrader/execution"
	"github.com/rustyeddy/mtftrader/metrics"
	"github.com/rustyeddy/mtftrader/risk"
	"github.com/rustyeddy/mtftrader/trader"
)

type fakeTrader struct {
	decision  risk.Decision
	submitErr error
	trades    []risk.TradeRequest
	closed    []string
	regime    risk.Regime
	stopped   string
	halted    map[string]string
}

func (f *fakeTrader) Analyze(_ context.Context, instrument string) (confluence.Decision, error) {
	if instrument != "BTCUSD" {
		return confluence.Decision{}, fmt.Errorf("%w: %s", confluence.ErrInsufficientResolutions, instrument)
	}
	return confluence.Decision{Instrument: instrument, Action: confluence.Buy, ConfluenceScore: 0.8}, nil
}

func (f *fakeTrader) AnalyzeAll(ctx context.Context) trader.Overview {
	d, _ := f.Analyze(ctx, "BTCUSD")
	return trader.Overview{Decisions: map[string]confluence.Decision{"BTCUSD": d}}
}

func (f *fakeTrader) RunCycle(context.Context) (trader.CycleReport, error) {
	return trader.CycleReport{Entries: []trader.CycleEntry{{Instrument: "BTCUSD", Action: confluence.Buy, OrderID: "ord-1"}}}, nil
}

func (f *fakeTrader) SubmitTrade(_ context.Context, req risk.TradeRequest) (risk.Decision, string, error) {
	f.trades = append(f.trades, req)
	if f.submitErr != nil {
		return risk.Decision{}, "", f.submitErr
	}
	if !f.decision.Approved() {
		return f.decision, "", nil
	}
	return f.decision, "ord-42", nil
}

func (f *fakeTrader) PositionSnapshot() trader.Snapshot {
	return trader.Snapshot{
		Positions: []execution.Position{{ID: "p-1", Instrument: "BTCUSD", Volume: 0.01, Status: execution.Open}},
		Stats:     execution.Stats{OpenPositions: 1},
		Regime:    trader.RegimeView{Regime: risk.Normal, Multiplier: 1},
	}
}

func (f *fakeTrader) EmergencyStop(_ context.Context, reason string) ([]string, error) {
	f.stopped = reason
	return []string{"ord-9"}, nil
}

func (f *fakeTrader) ClosePosition(id string, _ float64) (string, error) {
	if id != "p-1" {
		return "", fmt.Errorf("%w: %s", execution.ErrPositionNotFound, id)
	}
	f.closed = append(f.closed, id)
	return "ord-close", nil
}

func (f *fakeTrader) Order(id string) (execution.OrderResult, bool) {
	if id != "ord-42" {
		return execution.OrderResult{}, false
	}
	return execution.OrderResult{OrderID: id, Status: execution.Filled, ExecutedVolume: 0.01}, true
}

func (f *fakeTrader) RiskSummary(context.Context) (risk.Summary, error) {
	return risk.Summary{Regime: risk.Normal, RegimeMultiplier: 1}, nil
}

func (f *fakeTrader) SetRegime(r risk.Regime, _ string) error {
	f.regime = r
	return nil
}

func (f *fakeTrader) HaltedInstruments() map[string]string { return f.halted }

func (f *fakeTrader) ResumeInstrument(instrument string) error {
	if _, ok := f.halted[instrument]; !ok {
		return fmt.Errorf("%s is not halted", instrument)
	}
	delete(f.halted, instrument)
	return nil
}

func newTestServer(f *fakeTrader) *Server {
	return NewServer(ServerConfig{ProductionMode: true}, f, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(&fakeTrader{})
	w, out := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "normal", out["regime"])
	assert.EqualValues(t, 1, out["open_positions"])
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.QueueDepth.Set(2)
	s := newTestServer(&fakeTrader{})
	w, _ := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mtf_order_queue_depth 2")
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(&fakeTrader{})

	w, out := do(t, s, http.MethodGet, "/api/analysis/BTCUSD", "")
	assert.Equal(t, http.StatusOK, w.Code)
	data := out["data"].(map[string]any)
	assert.Equal(t, "BUY", data["action"])

	w, out = do(t, s, http.MethodGet, "/api/analysis/SOLUSD", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, true, out["error"])

	w, out = do(t, s, http.MethodGet, "/api/analysis", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, out["data"].(map[string]any)["decisions"], "BTCUSD")
}

func TestSubmitTrade(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		decision  risk.Decision
		submitErr error
		status    int
		orderID   string
	}{
		{
			name:     "approved",
			body:     `{"instrument":"BTCUSD","direction":"buy","confidence":0.8}`,
			decision: risk.Decision{Outcome: risk.Approved, LotSize: 0.01},
			status:   http.StatusOK,
			orderID:  "ord-42",
		},
		{
			name:     "risk rejection is data",
			body:     `{"instrument":"EURUSD","direction":"sell"}`,
			decision: risk.Decision{Outcome: risk.Rejected, Code: risk.CodeUnconfigured, Reason: "not configured"},
			status:   http.StatusOK,
		},
		{
			name:      "stale account",
			body:      `{"instrument":"BTCUSD","direction":"buy"}`,
			submitErr: fmt.Errorf("evaluate: %w", risk.ErrStaleAccountState),
			status:    http.StatusServiceUnavailable,
		},
		{
			name:      "queue full",
			body:      `{"instrument":"BTCUSD","direction":"buy"}`,
			decision:  risk.Decision{Outcome: risk.Approved},
			submitErr: execution.ErrQueueFull,
			status:    http.StatusServiceUnavailable,
		},
		{
			name:      "bad direction",
			body:      `{"instrument":"BTCUSD","direction":"up"}`,
			submitErr: fmt.Errorf("%w: direction must be buy or sell", trader.ErrInvalidTrade),
			status:    http.StatusBadRequest,
		},
		{
			name:      "gateway lookup failed",
			body:      `{"instrument":"BTCUSD","direction":"buy"}`,
			submitErr: fmt.Errorf("evaluate BTCUSD: instrument info: %w", errors.New("bridge http 502")),
			status:    http.StatusBadGateway,
		},
		{name: "missing instrument", body: `{"direction":"buy"}`, status: http.StatusBadRequest},
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeTrader{decision: tt.decision, submitErr: tt.submitErr}
			w, out := do(t, newTestServer(f), http.MethodPost, "/api/trades", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			data := out["data"].(map[string]any)
			assert.Equal(t, tt.orderID, data["order_id"])
			dec := data["decision"].(map[string]any)
			assert.Equal(t, string(tt.decision.Outcome), dec["outcome"])
		})
	}
}

func TestOrdersAndPositions(t *testing.T) {
	f := &fakeTrader{}
	s := newTestServer(f)

	w, out := do(t, s, http.MethodGet, "/api/orders/ord-42", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "filled", out["data"].(map[string]any)["status"])

	w, _ = do(t, s, http.MethodGet, "/api/orders/ord-0", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = do(t, s, http.MethodGet, "/api/positions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	ps := out["data"].(map[string]any)["positions"].([]any)
	assert.Len(t, ps, 1)

	w, out = do(t, s, http.MethodPost, "/api/positions/p-1/close", `{"volume":0.01}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ord-close", out["data"].(map[string]any)["order_id"])
	assert.Equal(t, []string{"p-1"}, f.closed)

	w, _ = do(t, s, http.MethodPost, "/api/positions/p-2/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHaltsAndResume(t *testing.T) {
	f := &fakeTrader{halted: map[string]string{"BTCUSD": "p-1 already holds BTCUSD for mtf"}}
	s := newTestServer(f)

	w, out := do(t, s, http.MethodGet, "/api/halts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, out["data"].(map[string]any)["halted"], "BTCUSD")

	w, _ = do(t, s, http.MethodPost, "/api/halts/BTCUSD/resume", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, f.halted)

	w, _ = do(t, s, http.MethodPost, "/api/halts/BTCUSD/resume", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegimeAndEmergencyStop(t *testing.T) {
	f := &fakeTrader{}
	s := newTestServer(f)

	w, _ := do(t, s, http.MethodPut, "/api/regime", `{"regime":"high_volatility","reason":"cpi"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, risk.HighVolatility, f.regime)

	w, _ = do(t, s, http.MethodPut, "/api/regime", `{"regime":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out := do(t, s, http.MethodPost, "/api/emergency-stop", `{"reason":"manual"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "manual", f.stopped)
	assert.Equal(t, []any{"ord-9"}, out["data"].(map[string]any)["orders"])

	w, _ = do(t, s, http.MethodPost, "/api/emergency-stop", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "emergency stop via API", f.stopped)

	w, _ = do(t, s, http.MethodGet, "/api/risk", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, out = do(t, s, http.MethodPost, "/api/cycle", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["data"].(map[string]any)["entries"], 1)
}
