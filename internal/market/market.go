// Package market proxies third-party market data: Indian index quotes from
// the Yahoo Finance chart API and coin listings from CoinGecko. The proxy is
// a thin boundary; responses are normalized but never persisted.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	defaultChartBase = "https://query1.finance.yahoo.com/v8/finance/chart"
	defaultCoinsBase = "https://api.coingecko.com/api/v3"

	symbolNifty  = "^NSEI"
	symbolSensex = "^BSESN"

	// coinsBodyLimit caps the passthrough payload.
	coinsBodyLimit = 1 << 20
)

// ErrUpstream marks a failed or malformed provider response.
var ErrUpstream = errors.New("market: upstream error")

// IndexQuote is a normalized snapshot of one index.
type IndexQuote struct {
	Value         float64 `json:"value"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	PreviousClose float64 `json:"previousClose"`
}

// Indices holds the two tracked indices. A field is nil when its provider
// call failed; the other one is still served.
type Indices struct {
	Nifty  *IndexQuote `json:"nifty"`
	Sensex *IndexQuote `json:"sensex"`
}

// Client fetches from the upstream providers with a bounded timeout.
type Client struct {
	http      *http.Client
	chartBase string
	coinsBase string
	currency  string
}

// Option configures a Client.
type Option func(*Client)

// WithChartBase overrides the Yahoo chart endpoint, for tests.
func WithChartBase(base string) Option {
	return func(c *Client) { c.chartBase = base }
}

// WithCoinsBase overrides the CoinGecko endpoint, for tests.
func WithCoinsBase(base string) Option {
	return func(c *Client) { c.coinsBase = base }
}

// NewClient constructs a market client. currency is the CoinGecko
// vs_currency code; the timeout bounds every upstream call.
func NewClient(timeout time.Duration, currency string, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if currency == "" {
		currency = "inr"
	}
	c := &Client{
		http:      &http.Client{Timeout: timeout},
		chartBase: defaultChartBase,
		coinsBase: defaultCoinsBase,
		currency:  currency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Indices fetches both index quotes concurrently. One provider failing does
// not fail the other; the error is non-nil only when both calls failed.
func (c *Client) Indices(ctx context.Context) (Indices, error) {
	var (
		wg                  sync.WaitGroup
		nifty, sensex       *IndexQuote
		niftyErr, sensexErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		nifty, niftyErr = c.indexQuote(ctx, symbolNifty)
	}()
	go func() {
		defer wg.Done()
		sensex, sensexErr = c.indexQuote(ctx, symbolSensex)
	}()
	wg.Wait()

	out := Indices{Nifty: nifty, Sensex: sensex}
	if niftyErr != nil && sensexErr != nil {
		return out, fmt.Errorf("%w: nifty: %v; sensex: %v", ErrUpstream, niftyErr, sensexErr)
	}
	return out, nil
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice         *float64 `json:"regularMarketPrice"`
				ChartPreviousClose         *float64 `json:"chartPreviousClose"`
				RegularMarketChange        *float64 `json:"regularMarketChange"`
				RegularMarketChangePercent *float64 `json:"regularMarketChangePercent"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (c *Client) indexQuote(ctx context.Context, symbol string) (*IndexQuote, error) {
	u := fmt.Sprintf("%s/%s?interval=1d&range=5d", c.chartBase, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: chart %s: status %d", ErrUpstream, symbol, resp.StatusCode)
	}

	var body chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: chart %s: %v", ErrUpstream, symbol, err)
	}
	if len(body.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: chart %s: empty result", ErrUpstream, symbol)
	}
	res := body.Chart.Result[0]
	if res.Meta.RegularMarketPrice == nil {
		return nil, fmt.Errorf("%w: chart %s: no market price", ErrUpstream, symbol)
	}
	price := *res.Meta.RegularMarketPrice

	closes := closesOf(res.Indicators.Quote)

	// Previous close: provider meta, else the second-to-last daily close.
	var prevClose *float64
	if res.Meta.ChartPreviousClose != nil {
		prevClose = res.Meta.ChartPreviousClose
	} else if len(closes) >= 2 {
		prevClose = &closes[len(closes)-2]
	}

	q := &IndexQuote{Value: price}
	if prevClose != nil {
		q.PreviousClose = *prevClose
	}

	// Change: provider fields when both are present, else derived from the
	// previous close, else from the last two closes.
	switch {
	case res.Meta.RegularMarketChange != nil && res.Meta.RegularMarketChangePercent != nil:
		q.Change = *res.Meta.RegularMarketChange
		q.ChangePercent = *res.Meta.RegularMarketChangePercent
	case prevClose != nil && *prevClose != 0:
		q.Change = price - *prevClose
		q.ChangePercent = q.Change / *prevClose * 100
	case len(closes) >= 2 && closes[len(closes)-2] != 0:
		prev := closes[len(closes)-2]
		q.Change = closes[len(closes)-1] - prev
		q.ChangePercent = q.Change / prev * 100
	}
	return q, nil
}

func closesOf(quotes []struct {
	Close []*float64 `json:"close"`
}) []float64 {
	if len(quotes) == 0 {
		return nil
	}
	out := make([]float64, 0, len(quotes[0].Close))
	for _, v := range quotes[0].Close {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// Coins returns the CoinGecko markets listing verbatim, priced in the
// configured currency.
func (c *Client) Coins(ctx context.Context) ([]byte, error) {
	q := url.Values{}
	q.Set("vs_currency", c.currency)
	q.Set("order", "market_cap_desc")
	q.Set("per_page", "50")
	q.Set("page", "1")
	q.Set("sparkline", "false")
	u := c.coinsBase + "/coins/markets?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: coins: status %d", ErrUpstream, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, coinsBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: coins: %v", ErrUpstream, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: coins: invalid payload", ErrUpstream)
	}
	return body, nil
}
