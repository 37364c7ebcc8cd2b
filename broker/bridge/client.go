// Package bridge talks to a trading terminal through a small HTTP JSON
// bridge process, and subscribes to its websocket quote feed.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/mtftrader/broker"
	"github.com/rustyeddy/mtftrader/market"
)

const DefaultTimeout = 30 * time.Second

// Client implements broker.Gateway over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	quotes   *market.QuoteStore
	quoteAge time.Duration
	now      func() time.Time
}

func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("bridge: missing base url")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bridge: bad base url: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

// UseQuotes makes CurrentPrice answer from store while its quote for the
// instrument is younger than maxAge. Older or missing quotes go to the bridge.
func (c *Client) UseQuotes(store *market.QuoteStore, maxAge time.Duration) {
	c.quotes = store
	c.quoteAge = maxAge
}

// apiError is the body the bridge returns with non-2xx responses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return classify(resp.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if method != http.MethodGet {
			return fmt.Errorf("%w: decode response: %v", broker.ErrOutcomeUnknown, err)
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classify maps a failed response to the gateway error taxonomy.
func classify(status int, body []byte) error {
	var ae apiError
	if json.Unmarshal(body, &ae) != nil || ae.Message == "" {
		ae.Message = strings.TrimSpace(string(body))
	}
	msg := fmt.Sprintf("bridge http %d: %s", status, ae.Message)

	switch {
	case ae.Code == "unknown_instrument":
		return fmt.Errorf("%w: %s", broker.ErrUnknownInstrument, msg)
	case ae.Code == "position_not_found":
		return fmt.Errorf("%w: %s", broker.ErrPositionNotFound, msg)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", broker.ErrUnknownInstrument, msg)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: %s", broker.ErrUnavailable, msg)
	case status >= 400:
		return fmt.Errorf("%w: %s", broker.ErrRejected, msg)
	}
	return fmt.Errorf("%w: %s", broker.ErrUnavailable, msg)
}

func (c *Client) InstrumentInfo(ctx context.Context, instrument string) (market.InstrumentSpec, error) {
	var spec market.InstrumentSpec
	err := c.do(ctx, http.MethodGet, "/instruments/"+url.PathEscape(instrument), nil, nil, &spec)
	return spec, err
}

func (c *Client) CurrentPrice(ctx context.Context, instrument string) (market.Quote, error) {
	if c.quotes != nil {
		if q, err := c.quotes.Get(instrument); err == nil && c.now().Sub(q.Time) < c.quoteAge {
			return q, nil
		}
	}
	var q market.Quote
	if err := c.do(ctx, http.MethodGet, "/prices/"+url.PathEscape(instrument), nil, nil, &q); err != nil {
		return market.Quote{}, err
	}
	if q.Instrument == "" {
		q.Instrument = instrument
	}
	return q, nil
}

func (c *Client) PlaceOrder(ctx context.Context, o broker.Order) (broker.Fill, error) {
	var f broker.Fill
	err := c.do(ctx, http.MethodPost, "/orders", nil, o, &f)
	return f, err
}

func (c *Client) OpenPositions(ctx context.Context) ([]broker.Position, error) {
	var out []broker.Position
	err := c.do(ctx, http.MethodGet, "/positions", nil, nil, &out)
	return out, err
}

func (c *Client) AccountInfo(ctx context.Context) (broker.Account, error) {
	var a broker.Account
	err := c.do(ctx, http.MethodGet, "/account", nil, nil, &a)
	return a, err
}

func (c *Client) DealHistory(ctx context.Context, from, to time.Time) ([]broker.Deal, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	var out []broker.Deal
	err := c.do(ctx, http.MethodGet, "/deals", q, nil, &out)
	return out, err
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
